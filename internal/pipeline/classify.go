package pipeline

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxErrorMessageLen bounds the persisted error message in bytes.
const MaxErrorMessageLen = 2000

// KindInternal classifies errors that carry no kind of their own.
const KindInternal = "InternalError"

type kinded interface {
	error
	Kind() string
}

// ErrorKind returns the classification of err.
func ErrorKind(err error) string {
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "Canceled"
	}
	return KindInternal
}

// Classify converts err into the short message stored on a failed request:
// "<Kind>: <message>", on one line and at most MaxErrorMessageLen bytes.
// Every non-empty value in redact is replaced before anything is returned.
func Classify(err error, redact ...string) string {
	if err == nil {
		return ""
	}

	kind := ErrorKind(err)
	msg := err.Error()
	var k kinded
	if errors.As(err, &k) {
		msg = k.Error()
	}

	msg = strings.Join(strings.Fields(Redact(msg, redact...)), " ")

	out := kind + ": " + msg
	if len(out) > MaxErrorMessageLen {
		out = out[:MaxErrorMessageLen]
		for !utf8.ValidString(out) {
			out = out[:len(out)-1]
		}
	}
	return out
}

// Redact coerces s to valid UTF-8 and replaces every non-empty secret with ***.
func Redact(s string, secrets ...string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "***")
		}
	}
	return s
}
