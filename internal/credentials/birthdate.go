package credentials

import (
	"time"

	"github.com/dvloznov/statement-relay/internal/domain"
)

// ValidationError reports a request field that is present but unusable.
type ValidationError = domain.ValidationError

// FormatBirthdate converts an ISO date (YYYY-MM-DD) into YYMMDD.
// A value that is already six digits is returned unchanged; anything else
// is rejected rather than passed through.
func FormatBirthdate(value string) (string, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.Format("060102"), nil
	}
	if len(value) == 6 && isDigits(value) {
		if _, err := time.Parse("060102", value); err == nil {
			return value, nil
		}
	}
	return "", &ValidationError{Field: "representative birth date", Reason: "expected YYYY-MM-DD or YYMMDD"}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// DigitsOnly strips every non-digit character from s.
func DigitsOnly(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
