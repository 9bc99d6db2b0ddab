// Package credentials decrypts the encrypted fields of a request and holds
// the resulting plaintext for the lifetime of a single attempt.
package credentials

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// DecryptionError reports malformed ciphertext or a key mismatch.
// Its message never includes plaintext or the ciphertext itself.
type DecryptionError struct {
	Field  string
	Reason string
}

func (e *DecryptionError) Error() string {
	if e.Field == "" {
		return "decryption failed: " + e.Reason
	}
	return fmt.Sprintf("decryption of %s failed: %s", e.Field, e.Reason)
}

// Kind implements the error classification used by the pipeline.
func (e *DecryptionError) Kind() string { return "DecryptionError" }

var hexPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// LooksEncrypted reports whether value consists only of hexadecimal
// characters and should therefore be passed through Decrypt.
func LooksEncrypted(value string) bool {
	return hexPattern.MatchString(value)
}

// Cipher decrypts hex-encoded AES-ECB ciphertext with PKCS#7 padding.
// It is built once at startup and is read-only afterwards.
type Cipher struct {
	block cipher.Block
}

// NewCipher creates a Cipher from a 16, 24 or 32 byte key.
func NewCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("NewCipher: %w", err)
	}
	return &Cipher{block: block}, nil
}

// ParseKey accepts the configured key either as hex (32, 48 or 64 characters)
// or as raw bytes of a valid AES key length.
func ParseKey(s string) ([]byte, error) {
	if LooksEncrypted(s) && (len(s) == 32 || len(s) == 48 || len(s) == 64) {
		return hex.DecodeString(s)
	}
	switch len(s) {
	case 16, 24, 32:
		return []byte(s), nil
	}
	return nil, fmt.Errorf("ParseKey: key must be 16, 24 or 32 bytes (raw or hex), got %d characters", len(s))
}

// Decrypt returns the plaintext for ciphertextHex.
func (c *Cipher) Decrypt(ciphertextHex string) (string, error) {
	plain, err := c.DecryptBytes(ciphertextHex)
	if err != nil {
		return "", err
	}
	s := string(plain)
	wipe(plain)
	return s, nil
}

// DecryptBytes is Decrypt without the string conversion, so callers can
// zero the plaintext once they are done with it.
func (c *Cipher) DecryptBytes(ciphertextHex string) ([]byte, error) {
	if !LooksEncrypted(ciphertextHex) {
		return nil, &DecryptionError{Reason: "input is not a hexadecimal string"}
	}
	data, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return nil, &DecryptionError{Reason: "input has odd length"}
	}

	bs := c.block.BlockSize()
	if len(data)%bs != 0 {
		return nil, &DecryptionError{Reason: "ciphertext is not a whole number of blocks"}
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += bs {
		c.block.Decrypt(out[i:i+bs], data[i:i+bs])
	}

	n, err := pkcs7Unpad(out, bs)
	if err != nil {
		wipe(out)
		return nil, &DecryptionError{Reason: "bad padding (wrong key or corrupted ciphertext)"}
	}
	wipe(out[n:])
	if !utf8.Valid(out[:n]) {
		wipe(out)
		return nil, &DecryptionError{Reason: "plaintext is not valid UTF-8 (wrong key or corrupted ciphertext)"}
	}
	return out[:n], nil
}

// Encrypt is the paired routine operators use to produce ciphertext for the ledger.
func (c *Cipher) Encrypt(plaintext string) string {
	bs := c.block.BlockSize()
	padded := pkcs7Pad([]byte(plaintext), bs)
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += bs {
		c.block.Encrypt(out[i:i+bs], padded[i:i+bs])
	}
	wipe(padded)
	return hex.EncodeToString(out)
}

func pkcs7Pad(b []byte, bs int) []byte {
	n := bs - len(b)%bs
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

// pkcs7Unpad returns the length of b without its padding.
func pkcs7Unpad(b []byte, bs int) (int, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("empty input")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > bs || n > len(b) {
		return 0, fmt.Errorf("invalid padding length")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return 0, fmt.Errorf("invalid padding byte")
		}
	}
	return len(b) - n, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
