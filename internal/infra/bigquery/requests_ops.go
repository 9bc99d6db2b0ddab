package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-relay/internal/domain"
	"github.com/dvloznov/statement-relay/internal/ledger"
	"google.golang.org/api/iterator"
)

// RequestLedger implements ledger.Ledger on a BigQuery table. BigQuery has
// no row locks, so status changes are compare-and-set UPDATEs on the
// expected previous status.
type RequestLedger struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewRequestLedger creates a new instance of RequestLedger
// with a shared BigQuery client.
func NewRequestLedger(ctx context.Context, projectID, datasetID string) (*RequestLedger, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRequestLedger: bigquery client: %w", err)
	}
	return NewRequestLedgerWithClient(client, projectID, datasetID), nil
}

// NewRequestLedgerWithClient creates a RequestLedger using the provided client.
func NewRequestLedgerWithClient(client *bigquery.Client, projectID, datasetID string) *RequestLedger {
	return &RequestLedger{client: client, projectID: projectID, datasetID: datasetID}
}

// Close closes the underlying BigQuery client.
func (l *RequestLedger) Close() error {
	return l.client.Close()
}

func (l *RequestLedger) table() string {
	return fmt.Sprintf("`%s.%s.%s`", l.projectID, l.datasetID, requestsTable)
}

// FetchNextPending implements ledger.Ledger.
func (l *RequestLedger) FetchNextPending(ctx context.Context) (*domain.Request, error) {
	q := l.client.Query(fmt.Sprintf(`
		SELECT
			request_id,
			institution_id,
			bank_code,
			account_kind,
			account,
			account_password,
			secondary_password,
			representative_birth_or_biz_id,
			biz_id,
			period_start,
			period_end,
			status,
			error_message,
			raw_artifact_path,
			normalized_artifact_path,
			created_ts,
			updated_ts
		FROM %s
		WHERE status = @status
		ORDER BY created_ts ASC, request_id ASC
		LIMIT 1
	`, l.table()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: string(domain.StatusPending)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchNextPending: reading query: %w", err)
	}

	var row BankRequestRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FetchNextPending: iterating: %w", err)
	}

	return row.ToRequest(), nil
}

// UpdateStatus implements ledger.Ledger.
func (l *RequestLedger) UpdateStatus(ctx context.Context, requestID string, status domain.Status, update domain.StatusUpdate) error {
	if err := ledger.ValidateUpdate(status, update); err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	from, ok := ledger.PreviousStatus(status)
	if !ok {
		return &ledger.TransitionError{RequestID: requestID, To: status}
	}

	q := l.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    error_message = NULLIF(@error_message, ""),
		    raw_artifact_path = NULLIF(@raw_artifact_path, ""),
		    normalized_artifact_path = NULLIF(@normalized_artifact_path, ""),
		    updated_ts = @updated_ts
		WHERE request_id = @request_id
		  AND status = @from_status
	`, l.table()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: string(status)},
		{Name: "error_message", Value: update.ErrorMessage},
		{Name: "raw_artifact_path", Value: update.RawArtifactPath},
		{Name: "normalized_artifact_path", Value: update.NormalizedArtifactPath},
		{Name: "updated_ts", Value: time.Now()},
		{Name: "request_id", Value: requestID},
		{Name: "from_status", Value: string(from)},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("UpdateStatus: running update query: %w", err)
	}

	js, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("UpdateStatus: waiting for job: %w", err)
	}
	if err := js.Err(); err != nil {
		return fmt.Errorf("UpdateStatus: job error: %w", err)
	}

	if affected(js) > 0 {
		return nil
	}

	current, err := l.currentStatus(ctx, requestID)
	if err != nil {
		return err
	}
	return &ledger.TransitionError{RequestID: requestID, From: current, To: status}
}

func affected(js *bigquery.JobStatus) int64 {
	if js.Statistics == nil {
		return 0
	}
	if qs, ok := js.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return qs.NumDMLAffectedRows
	}
	return 0
}

func (l *RequestLedger) currentStatus(ctx context.Context, requestID string) (domain.Status, error) {
	q := l.client.Query(fmt.Sprintf(`SELECT status FROM %s WHERE request_id = @request_id`, l.table()))
	q.Parameters = []bigquery.QueryParameter{{Name: "request_id", Value: requestID}}

	it, err := q.Read(ctx)
	if err != nil {
		return "", fmt.Errorf("UpdateStatus: reading current status: %w", err)
	}

	var row struct {
		Status string `bigquery:"status"`
	}
	err = it.Next(&row)
	if err == iterator.Done {
		return "", fmt.Errorf("UpdateStatus: %w: %s", ledger.ErrNotFound, requestID)
	}
	if err != nil {
		return "", fmt.Errorf("UpdateStatus: iterating: %w", err)
	}
	return domain.Status(row.Status), nil
}

var _ ledger.Ledger = (*RequestLedger)(nil)
