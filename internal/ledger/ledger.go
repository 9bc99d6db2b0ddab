// Package ledger defines the request ledger the pipeline consumes: where
// pending requests come from and where their outcome is reported.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/statement-relay/internal/domain"
)

// ErrNotFound is returned when a request ID is unknown to the ledger.
var ErrNotFound = errors.New("request not found")

// Ledger is the request queue and status store.
type Ledger interface {
	// FetchNextPending returns the oldest pending request, or nil when
	// nothing is waiting.
	FetchNextPending(ctx context.Context) (*domain.Request, error)

	// UpdateStatus moves a request to status and records the outcome fields
	// that belong to it.
	UpdateStatus(ctx context.Context, requestID string, status domain.Status, update domain.StatusUpdate) error
}

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	RequestID string
	From, To  domain.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("request %s: invalid status transition %s -> %s", e.RequestID, e.From, e.To)
}

// ValidateTransition checks from -> to against the request lifecycle:
// pending -> in_progress -> succeeded | failed.
func ValidateTransition(requestID string, from, to domain.Status) error {
	switch {
	case from == domain.StatusPending && to == domain.StatusInProgress:
		return nil
	case from == domain.StatusInProgress && to.Terminal():
		return nil
	}
	return &TransitionError{RequestID: requestID, From: from, To: to}
}

// ValidateUpdate checks that update only carries the fields status allows:
// an error message only on failure, artifact paths only on success.
func ValidateUpdate(status domain.Status, update domain.StatusUpdate) error {
	switch status {
	case domain.StatusFailed:
		if update.ErrorMessage == "" {
			return errors.New("failed status requires an error message")
		}
		if update.RawArtifactPath != "" || update.NormalizedArtifactPath != "" {
			return errors.New("failed status must not carry artifact paths")
		}
	case domain.StatusSucceeded:
		if update.RawArtifactPath == "" || update.NormalizedArtifactPath == "" {
			return errors.New("succeeded status requires both artifact paths")
		}
		if update.ErrorMessage != "" {
			return errors.New("succeeded status must not carry an error message")
		}
	default:
		if update != (domain.StatusUpdate{}) {
			return fmt.Errorf("%s status carries no outcome fields", status)
		}
	}
	return nil
}

// PreviousStatus returns the only status a request may be in before moving
// to status. Backends without row locks use it for compare-and-set updates.
func PreviousStatus(status domain.Status) (domain.Status, bool) {
	switch {
	case status == domain.StatusInProgress:
		return domain.StatusPending, true
	case status.Terminal():
		return domain.StatusInProgress, true
	}
	return "", false
}
