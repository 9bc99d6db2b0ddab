package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/statement-relay/internal/banks"
	"github.com/dvloznov/statement-relay/internal/credentials"
	"github.com/dvloznov/statement-relay/internal/domain"
	"github.com/dvloznov/statement-relay/internal/logger"
	"github.com/dvloznov/statement-relay/internal/metrics"
	"github.com/dvloznov/statement-relay/internal/transfer"
)

// PipelineStep represents a single step of one request attempt.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all steps of one attempt.
type PipelineState struct {
	Request   *domain.Request
	AttemptID string
	StartedAt time.Time

	// Bundle is destroyed by the orchestrator on every exit path.
	Bundle *credentials.Bundle

	Adapter banks.Adapter
	WorkDir string

	RawPath    string
	UploadPath string

	// Records is set only when the pipeline normalized the raw artifact itself.
	Records []domain.TransactionRecord

	RemoteRawPath    string
	RemoteUploadPath string
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially and stops at the first error. A
// panicking step is converted into an error.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := runStep(ctx, step, state); err != nil {
			return err
		}
	}
	return nil
}

func runStep(ctx context.Context, step PipelineStep, state *PipelineState) (err error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %s panicked: %v", step.Name(), r)
		}
		metrics.ObserveStep(step.Name(), start)
		if err != nil {
			log.Debug().Str("step", step.Name()).Str("error_kind", ErrorKind(err)).Msg("Step failed")
		}
	}()

	return step.Execute(ctx, state)
}

// ValidateRequestStep rejects requests whose fields cannot be processed.
type ValidateRequestStep struct{}

func (s *ValidateRequestStep) Name() string { return "validate" }

func (s *ValidateRequestStep) Execute(ctx context.Context, state *PipelineState) error {
	return state.Request.Validate()
}

// DecryptCredentialsStep opens the credential bundle.
type DecryptCredentialsStep struct {
	Cipher *credentials.Cipher
}

func (s *DecryptCredentialsStep) Name() string { return "decrypt" }

func (s *DecryptCredentialsStep) Execute(ctx context.Context, state *PipelineState) error {
	b, err := credentials.Open(s.Cipher, state.Request)
	if err != nil {
		return err
	}
	state.Bundle = b
	return nil
}

// ResolveAdapterStep picks the retrieval adapter for the request.
type ResolveAdapterStep struct {
	Resolver AdapterResolver
}

func (s *ResolveAdapterStep) Name() string { return "resolve" }

func (s *ResolveAdapterStep) Execute(ctx context.Context, state *PipelineState) error {
	a, err := s.Resolver.Resolve(state.Request.BankCode, state.Request.AccountKind)
	if err != nil {
		return err
	}
	state.Adapter = a
	return nil
}

// PrepareWorkDirStep creates a fresh scratch directory for the attempt:
// {scratchRoot}/{institutionId}_{requestId}_{timestamp}.
type PrepareWorkDirStep struct {
	ScratchRoot string
}

func (s *PrepareWorkDirStep) Name() string { return "workdir" }

func (s *PrepareWorkDirStep) Execute(ctx context.Context, state *PipelineState) error {
	if err := os.MkdirAll(s.ScratchRoot, 0o700); err != nil {
		return fmt.Errorf("create scratch root: %w", err)
	}

	r := state.Request
	dir := filepath.Join(s.ScratchRoot, fmt.Sprintf("%s_%s_%s",
		r.InstitutionID, r.RequestID, state.StartedAt.Format(transfer.TimestampLayout)))
	if err := os.Mkdir(dir, 0o700); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	state.WorkDir = dir
	return nil
}

// RetrieveStep runs the adapter and checks the artifacts it reports.
type RetrieveStep struct{}

func (s *RetrieveStep) Name() string { return "retrieve" }

func (s *RetrieveStep) Execute(ctx context.Context, state *PipelineState) error {
	r := state.Request
	b := state.Bundle

	arts, err := state.Adapter.Retrieve(ctx, banks.RetrievalInput{
		Account:           b.Account(),
		Password:          b.Password(),
		SecondaryPassword: b.SecondaryPassword(),
		Identifier:        b.Identifier(),
		PeriodStart:       r.PeriodStart,
		PeriodEnd:         r.PeriodEnd,
		WorkDir:           state.WorkDir,
	})
	if err != nil {
		return banks.AsRetrievalError(r.BankCode, err)
	}

	if arts.RawPath == "" {
		return &banks.RetrievalError{BankCode: r.BankCode, Err: errors.New("adapter returned no raw artifact")}
	}
	if ok, err := usableFile(arts.RawPath); !ok {
		return &banks.RetrievalError{BankCode: r.BankCode, Err: fmt.Errorf("raw artifact unusable: %w", err)}
	}
	state.RawPath = arts.RawPath

	if arts.UploadPath != "" {
		if ok, _ := usableFile(arts.UploadPath); ok {
			state.UploadPath = arts.UploadPath
		} else {
			log := logger.FromContext(ctx)
			log.Warn().Msg("Adapter upload artifact unusable, normalizing raw artifact")
		}
	}
	return nil
}

// usableFile reports whether path is a non-empty regular file.
func usableFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("%s is not a regular file", filepath.Base(path))
	}
	if info.Size() == 0 {
		return false, fmt.Errorf("%s is empty", filepath.Base(path))
	}
	return true, nil
}

// NormalizeStep builds the upload artifact from the raw one when the adapter
// did not provide a usable one.
type NormalizeStep struct {
	Normalizer StatementNormalizer
	Serialize  SerializerFunc
}

func (s *NormalizeStep) Name() string { return "normalize" }

func (s *NormalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.UploadPath != "" {
		return nil
	}
	log := logger.FromContext(ctx)

	res, err := s.Normalizer.Normalize(state.RawPath)
	if err != nil {
		return err
	}

	metrics.RecordsNormalized.Add(float64(len(res.Records)))
	metrics.RowsSkipped.Add(float64(len(res.Skipped)))
	for _, sk := range res.Skipped {
		log.Debug().Int("row", sk.Row).Str("reason", sk.Reason).Msg("Skipped statement row")
	}
	log.Info().
		Int("records", len(res.Records)).
		Int("skipped", len(res.Skipped)).
		Msg("Statement normalized")

	out := filepath.Join(state.WorkDir, fmt.Sprintf("%s_%s.xlsx",
		state.Request.RequestID, state.StartedAt.Format(transfer.TimestampLayout)))
	if err := s.Serialize(out, res.Records); err != nil {
		return fmt.Errorf("serialize upload artifact: %w", err)
	}

	state.Records = res.Records
	state.UploadPath = out
	return nil
}

// ArchiveTransactionsStep hands normalized records to the archiver.
type ArchiveTransactionsStep struct {
	Archiver TransactionArchiver
}

func (s *ArchiveTransactionsStep) Name() string { return "archive" }

func (s *ArchiveTransactionsStep) Execute(ctx context.Context, state *PipelineState) error {
	if len(state.Records) == 0 {
		return nil
	}
	if err := s.Archiver.Archive(ctx, state.Request, state.AttemptID, state.Records); err != nil {
		return fmt.Errorf("archive transactions: %w", err)
	}
	return nil
}

// StageArtifactsStep transfers the raw and then the upload artifact under
// request-scoped remote names.
type StageArtifactsStep struct {
	Stager ArtifactStager
	Layout transfer.Layout
}

func (s *StageArtifactsStep) Name() string { return "stage" }

func (s *StageArtifactsStep) Execute(ctx context.Context, state *PipelineState) error {
	r := state.Request

	raw := s.Layout.RawPath(r.InstitutionID, r.RequestID, state.StartedAt, state.RawPath)
	if err := s.Stager.Stage(ctx, state.RawPath, raw); err != nil {
		return asTransferError(raw, err)
	}

	upload := s.Layout.UploadPath(r.InstitutionID, r.RequestID, state.StartedAt, state.UploadPath)
	if err := s.Stager.Stage(ctx, state.UploadPath, upload); err != nil {
		return asTransferError(upload, err)
	}

	state.RemoteRawPath = raw
	state.RemoteUploadPath = upload
	return nil
}

func asTransferError(remote string, err error) error {
	var te *transfer.TransferError
	if errors.As(err, &te) {
		return err
	}
	return &transfer.TransferError{Op: "stage", RemotePath: remote, Err: err}
}
