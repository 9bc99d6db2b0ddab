package banks

import (
	"errors"
	"fmt"
)

// UnsupportedBankError means no adapter is registered for the request's
// bank and account kind. It is terminal for that request.
type UnsupportedBankError struct {
	Key Key
}

func (e *UnsupportedBankError) Error() string {
	return fmt.Sprintf("no adapter registered for %s", e.Key)
}

// Kind implements the error classification used by the pipeline.
func (e *UnsupportedBankError) Kind() string { return "UnsupportedBankError" }

// RetrievalError wraps any failure reported by an adapter.
type RetrievalError struct {
	BankCode string
	Err      error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval from %s failed: %v", e.BankCode, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Kind implements the error classification used by the pipeline.
func (e *RetrievalError) Kind() string { return "RetrievalError" }

// ErrNoData is returned by adapters when the bank has no statement for the period.
var ErrNoData = errors.New("no transactions in requested period")

// AsRetrievalError wraps err unless it already is a RetrievalError.
func AsRetrievalError(bankCode string, err error) error {
	if err == nil {
		return nil
	}
	var re *RetrievalError
	if errors.As(err, &re) {
		return err
	}
	return &RetrievalError{BankCode: bankCode, Err: err}
}
