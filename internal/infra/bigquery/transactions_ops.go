package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-relay/internal/domain"
	"github.com/dvloznov/statement-relay/internal/logger"
)

// TransactionArchive streams normalized statement records into
// statement_transactions for analysis.
type TransactionArchive struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewTransactionArchiveWithClient creates an archive using the provided client.
func NewTransactionArchiveWithClient(client *bigquery.Client, projectID, datasetID string) *TransactionArchive {
	return &TransactionArchive{client: client, projectID: projectID, datasetID: datasetID}
}

// Archive inserts the records normalized for one attempt of req as a batch.
func (a *TransactionArchive) Archive(ctx context.Context, req *domain.Request, attemptID string, records []domain.TransactionRecord) error {
	batch := ArchiveBatch{
		RequestID:     req.RequestID,
		AttemptID:     attemptID,
		InstitutionID: req.InstitutionID,
		BankCode:      req.BankCode,
	}
	return InsertTransactionsWithClient(ctx, a.client, a.projectID, a.datasetID, toTransactionRows(batch, records, time.Now()))
}

// InsertTransactionsWithClient inserts a batch of StatementTransactionRow into
// statement_transactions using the provided BigQuery client.
func InsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, rows []*StatementTransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	// Use fully qualified table name to avoid project ID issues
	table := client.DatasetInProject(projectID, datasetID).Table(transactionsTable)
	inserter := table.Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertTransactions: inserting rows: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Int("rows", len(rows)).
		Str("table", transactionsTable).
		Msg("Archived statement transactions")
	return nil
}
