package pipeline

import (
	"context"

	"github.com/dvloznov/statement-relay/internal/banks"
	"github.com/dvloznov/statement-relay/internal/domain"
	"github.com/dvloznov/statement-relay/internal/statement"
)

// AdapterResolver looks up the retrieval adapter for a bank and account kind.
type AdapterResolver interface {
	Resolve(bankCode string, kind domain.AccountKind) (banks.Adapter, error)
}

// StatementNormalizer turns a raw statement file into transaction records.
type StatementNormalizer interface {
	Normalize(path string) (*statement.Result, error)
}

// SerializerFunc writes records as the upload artifact at path.
type SerializerFunc func(path string, records []domain.TransactionRecord) error

// ArtifactStager copies a local artifact to a remote logical path.
type ArtifactStager interface {
	Stage(ctx context.Context, localPath, remotePath string) error
}

// TransactionArchiver keeps a copy of normalized records outside the
// upload artifact. It is optional.
type TransactionArchiver interface {
	Archive(ctx context.Context, req *domain.Request, attemptID string, records []domain.TransactionRecord) error
}
