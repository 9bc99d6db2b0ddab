package credentials

import (
	"crypto/aes"

	"github.com/dvloznov/statement-relay/internal/domain"
)

// Bundle holds the plaintext credentials for one attempt. It must be
// released with Destroy on every exit path; after that every accessor
// returns the empty string.
type Bundle struct {
	account    []byte
	password   []byte
	secondary  []byte
	identifier []byte
}

// Account returns the digits-only account number.
func (b *Bundle) Account() string { return string(b.account) }

// Password returns the plaintext account password.
func (b *Bundle) Password() string { return string(b.password) }

// SecondaryPassword returns the plaintext secondary password, or "" if the request had none.
func (b *Bundle) SecondaryPassword() string { return string(b.secondary) }

// Identifier returns the secondary identifier the bank asks for: the
// representative's birth date (YYMMDD) for personal accounts or the
// business registration number for corporate ones.
func (b *Bundle) Identifier() string { return string(b.identifier) }

// Destroy zeroes every buffer held by the bundle. It is safe to call more than once.
func (b *Bundle) Destroy() {
	if b == nil {
		return
	}
	for _, buf := range [][]byte{b.account, b.password, b.secondary, b.identifier} {
		wipe(buf)
	}
	b.account, b.password, b.secondary, b.identifier = nil, nil, nil, nil
}

// newBundle allocates the bundle Open fills in.
var newBundle = func() *Bundle { return &Bundle{} }

// Open decrypts the secret fields of req into a new Bundle:
//
//  1. the account password, which is always ciphertext;
//  2. the secondary identifier: for personal accounts the representative
//     birth date, decrypted only when it looks encrypted and then
//     normalized to YYMMDD; for corporate accounts the business id from
//     BizID, or else from RepresentativeBirthOrBizID;
//  3. the secondary password, when present and encrypted;
//  4. the account number, stripped to digits.
//
// On error the partially built bundle is destroyed before returning.
func Open(c *Cipher, req *domain.Request) (*Bundle, error) {
	b := newBundle()
	if err := b.fill(c, req); err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

func (b *Bundle) fill(c *Cipher, req *domain.Request) error {
	var err error
	if b.password, err = c.DecryptBytes(req.AccountPassword); err != nil {
		return withField(err, "account password")
	}

	switch req.AccountKind {
	case domain.AccountCorporate:
		if b.identifier, err = bizID(c, req); err != nil {
			return err
		}
	default:
		if b.identifier, err = birthdate(c, req.RepresentativeBirthOrBizID); err != nil {
			return err
		}
	}

	if req.SecondaryPassword != "" {
		if LooksEncrypted(req.SecondaryPassword) {
			if b.secondary, err = c.DecryptBytes(req.SecondaryPassword); err != nil {
				return withField(err, "secondary password")
			}
		} else {
			b.secondary = []byte(req.SecondaryPassword)
		}
	}

	b.account = []byte(DigitsOnly(req.Account))
	if len(b.account) == 0 {
		return &ValidationError{Field: "account", Reason: "no digits"}
	}
	return nil
}

// bizID returns the digits of the business registration number. The
// dedicated BizID field wins; otherwise the shared representative field is
// used, decrypted when it has the shape of ciphertext.
func bizID(c *Cipher, req *domain.Request) ([]byte, error) {
	if id := DigitsOnly(req.BizID); id != "" {
		return []byte(id), nil
	}

	value := req.RepresentativeBirthOrBizID
	if isCiphertext(value) {
		raw, err := c.DecryptBytes(value)
		if err != nil {
			return nil, withField(err, "business id")
		}
		value = string(raw)
		wipe(raw)
	}
	if id := DigitsOnly(value); id != "" {
		return []byte(id), nil
	}
	return nil, &ValidationError{Field: "bizId", Reason: "is required for corporate accounts"}
}

// isCiphertext reports whether value is hex covering whole cipher blocks.
// A plain 10-digit business number is hex but never block-sized.
func isCiphertext(value string) bool {
	return value != "" && LooksEncrypted(value) && len(value)%(2*aes.BlockSize) == 0
}

func birthdate(c *Cipher, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	plain := value
	// A YYMMDD value is all digits and so also passes the hex check; it
	// is only treated as ciphertext when it cannot be a plain date.
	if LooksEncrypted(value) && !(len(value) == 6 && isDigits(value)) {
		raw, err := c.DecryptBytes(value)
		if err != nil {
			return nil, withField(err, "representative birth date")
		}
		plain = string(raw)
		wipe(raw)
	}
	formatted, err := FormatBirthdate(plain)
	if err != nil {
		return nil, err
	}
	return []byte(formatted), nil
}

func withField(err error, field string) error {
	if de, ok := err.(*DecryptionError); ok {
		return &DecryptionError{Field: field, Reason: de.Reason}
	}
	return err
}
