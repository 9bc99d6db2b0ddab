// Package pipeline processes one statement request at a time: it claims the
// request, decrypts its credentials, retrieves and normalizes the
// statement, stages both artifacts and records the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/statement-relay/internal/credentials"
	"github.com/dvloznov/statement-relay/internal/domain"
	"github.com/dvloznov/statement-relay/internal/ledger"
	"github.com/dvloznov/statement-relay/internal/logger"
	"github.com/dvloznov/statement-relay/internal/metrics"
	"github.com/dvloznov/statement-relay/internal/statement"
	"github.com/dvloznov/statement-relay/internal/transfer"
	"github.com/google/uuid"
)

// finalizeTimeout bounds the status write after an attempt, which runs even
// if the attempt's context was cancelled.
const finalizeTimeout = 30 * time.Second

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Ledger     ledger.Ledger
	Cipher     *credentials.Cipher
	Resolver   AdapterResolver
	Normalizer StatementNormalizer
	Stager     ArtifactStager
	Layout     transfer.Layout

	// Serialize defaults to statement.Serialize.
	Serialize SerializerFunc

	// Archiver is optional.
	Archiver TransactionArchiver

	ScratchRoot string
	KeepScratch bool

	// Now defaults to time.Now.
	Now func() time.Time
}

// Outcome is the final state recorded for one attempt.
type Outcome struct {
	RequestID string
	AttemptID string
	Status    domain.Status

	ErrorKind    string
	ErrorMessage string

	RawArtifactPath        string
	NormalizedArtifactPath string
}

// Orchestrator runs the request state machine.
type Orchestrator struct {
	deps     Deps
	pipeline *Pipeline
}

// NewOrchestrator validates deps and assembles the attempt pipeline.
func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("NewOrchestrator: ledger is required")
	case deps.Cipher == nil:
		return nil, errors.New("NewOrchestrator: cipher is required")
	case deps.Resolver == nil:
		return nil, errors.New("NewOrchestrator: adapter resolver is required")
	case deps.Normalizer == nil:
		return nil, errors.New("NewOrchestrator: normalizer is required")
	case deps.Stager == nil:
		return nil, errors.New("NewOrchestrator: stager is required")
	case deps.ScratchRoot == "":
		return nil, errors.New("NewOrchestrator: scratch root is required")
	}
	if deps.Serialize == nil {
		deps.Serialize = statement.Serialize
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	steps := []PipelineStep{
		&ValidateRequestStep{},
		&DecryptCredentialsStep{Cipher: deps.Cipher},
		&ResolveAdapterStep{Resolver: deps.Resolver},
		&PrepareWorkDirStep{ScratchRoot: deps.ScratchRoot},
		&RetrieveStep{},
		&NormalizeStep{Normalizer: deps.Normalizer, Serialize: deps.Serialize},
	}
	if deps.Archiver != nil {
		steps = append(steps, &ArchiveTransactionsStep{Archiver: deps.Archiver})
	}
	steps = append(steps, &StageArtifactsStep{Stager: deps.Stager, Layout: deps.Layout})

	return &Orchestrator{deps: deps, pipeline: NewPipeline(steps...)}, nil
}

// PollOnce processes the next pending request, if any. It returns a nil
// Outcome when nothing was pending. Errors are ledger failures only; a
// request that fails processing is reported through the Outcome.
func (o *Orchestrator) PollOnce(ctx context.Context) (*Outcome, error) {
	metrics.LastPoll.SetToCurrentTime()

	req, err := o.deps.Ledger.FetchNextPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch next pending: %w", err)
	}
	if req == nil {
		log := logger.FromContext(ctx)
		log.Debug().Msg("No pending request")
		return nil, nil
	}
	return o.Process(ctx, req)
}

// Process claims req and runs one attempt to a terminal status. The claim
// happens before anything else; if it fails nothing is attempted.
func (o *Orchestrator) Process(ctx context.Context, req *domain.Request) (*Outcome, error) {
	attemptID := uuid.NewString()
	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"request_id":   req.RequestID,
		"attempt_id":   attemptID,
		"bank_code":    req.BankCode,
		"account_kind": string(req.AccountKind),
		"account":      logger.MaskAccount(credentials.DigitsOnly(req.Account)),
	})
	ctx = logger.WithContext(ctx, log)

	if err := o.deps.Ledger.UpdateStatus(ctx, req.RequestID, domain.StatusInProgress, domain.StatusUpdate{}); err != nil {
		return nil, fmt.Errorf("claim request %s: %w", req.RequestID, err)
	}
	log.Info().Msg("Request claimed")

	state := &PipelineState{
		Request:   req,
		AttemptID: attemptID,
		StartedAt: o.deps.Now(),
	}
	defer func() {
		state.Bundle.Destroy()
		o.cleanup(ctx, state)
	}()

	runErr := o.pipeline.Execute(ctx, state)

	out := &Outcome{RequestID: req.RequestID, AttemptID: attemptID}
	var update domain.StatusUpdate
	if runErr != nil {
		redact := secrets(state.Bundle)
		out.Status = domain.StatusFailed
		out.ErrorKind = ErrorKind(runErr)
		out.ErrorMessage = Classify(runErr, redact...)
		update.ErrorMessage = out.ErrorMessage
		log.Error().
			Str("error_kind", out.ErrorKind).
			Str("error", Redact(runErr.Error(), redact...)).
			Msg("Attempt failed")
	} else {
		out.Status = domain.StatusSucceeded
		out.RawArtifactPath = state.RemoteRawPath
		out.NormalizedArtifactPath = state.RemoteUploadPath
		update.RawArtifactPath = state.RemoteRawPath
		update.NormalizedArtifactPath = state.RemoteUploadPath
	}

	// Record the outcome even when the attempt was interrupted, so the
	// request does not stay in progress.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := o.deps.Ledger.UpdateStatus(fctx, req.RequestID, out.Status, update); err != nil {
		log.Error().Err(err).Str("status", string(out.Status)).Msg("Failed to record request outcome")
		return out, fmt.Errorf("finalize request %s: %w", req.RequestID, err)
	}

	metrics.ObserveRequest(req.BankCode, string(out.Status), out.ErrorKind)
	if runErr != nil {
		log.Warn().
			Str("error_kind", out.ErrorKind).
			Str("error_message", out.ErrorMessage).
			Msg("Request failed")
	} else {
		log.Info().
			Str("raw_artifact_path", out.RawArtifactPath).
			Str("normalized_artifact_path", out.NormalizedArtifactPath).
			Msg("Request succeeded")
	}
	return out, nil
}

func secrets(b *credentials.Bundle) []string {
	if b == nil {
		return nil
	}
	return []string{b.Password(), b.SecondaryPassword(), b.Identifier()}
}

func (o *Orchestrator) cleanup(ctx context.Context, state *PipelineState) {
	if state.WorkDir == "" || o.deps.KeepScratch {
		return
	}
	if err := os.RemoveAll(state.WorkDir); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to remove work dir")
	}
}
