package domain

import (
	"regexp"
	"time"

	"cloud.google.com/go/civil"
)

// Status represents where a request is in its lifecycle.
type Status string

const (
	// StatusPending indicates the request is waiting to be claimed.
	StatusPending Status = "pending"
	// StatusInProgress indicates a worker has claimed the request.
	StatusInProgress Status = "in_progress"
	// StatusSucceeded indicates both artifacts were transferred and recorded.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates processing stopped with a classified error.
	StatusFailed Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// AccountKind distinguishes personal from corporate bank accounts.
type AccountKind string

const (
	AccountPersonal  AccountKind = "personal"
	AccountCorporate AccountKind = "corporate"
)

// Request is one statement retrieval unit of work, as stored in the ledger.
type Request struct {
	// RequestID is the unique, stable identifier assigned by the ledger.
	RequestID string `json:"request_id"`

	// InstitutionID identifies the customer the statement is retrieved for.
	// It prefixes the scratch and remote directory names.
	InstitutionID string `json:"institution_id"`

	BankCode    string      `json:"bank_code"`
	AccountKind AccountKind `json:"account_kind"`

	// Account may contain hyphens; the pipeline strips non-digits before use.
	Account string `json:"account"`

	// AccountPassword is always hex ciphertext.
	AccountPassword string `json:"-"`

	// SecondaryPassword is optional and may be ciphertext or empty.
	SecondaryPassword string `json:"-"`

	// RepresentativeBirthOrBizID holds the representative's birth date for
	// personal accounts or the business registration number for corporate
	// ones, as ciphertext or plaintext.
	RepresentativeBirthOrBizID string `json:"-"`

	// BizID is the plaintext business registration number for corporate
	// accounts. When empty, RepresentativeBirthOrBizID is used.
	BizID string `json:"biz_id,omitempty"`

	PeriodStart civil.Date `json:"period_start"`
	PeriodEnd   civil.Date `json:"period_end"`

	Status Status `json:"status"`

	// ErrorMessage is set only when Status is StatusFailed.
	ErrorMessage string `json:"error_message,omitempty"`

	// RawArtifactPath and NormalizedArtifactPath are set only when Status is StatusSucceeded.
	RawArtifactPath        string `json:"raw_artifact_path,omitempty"`
	NormalizedArtifactPath string `json:"normalized_artifact_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// StatusUpdate carries the optional fields written alongside a status change.
type StatusUpdate struct {
	ErrorMessage           string
	RawArtifactPath        string
	NormalizedArtifactPath string
}

// pathSafeID matches identifiers that are embedded in file and directory names.
var pathSafeID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Validate checks the fields the pipeline relies on before any secret is
// touched: identifiers usable in path names, a known account kind and an
// ordered retrieval period.
func (r *Request) Validate() error {
	if !pathSafeID.MatchString(r.RequestID) {
		return &ValidationError{Field: "requestId", Reason: "must be a non-empty path-safe identifier"}
	}
	if !pathSafeID.MatchString(r.InstitutionID) {
		return &ValidationError{Field: "institutionId", Reason: "must be a non-empty path-safe identifier"}
	}
	if r.BankCode == "" {
		return &ValidationError{Field: "bankCode", Reason: "is required"}
	}
	if r.AccountKind != AccountPersonal && r.AccountKind != AccountCorporate {
		return &ValidationError{Field: "accountKind", Reason: "must be personal or corporate"}
	}
	if !r.PeriodStart.IsValid() || !r.PeriodEnd.IsValid() {
		return &ValidationError{Field: "period", Reason: "start and end must be valid dates"}
	}
	if r.PeriodEnd.Before(r.PeriodStart) {
		return &ValidationError{Field: "period", Reason: "start is after end"}
	}
	return nil
}
