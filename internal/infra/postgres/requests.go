package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-relay/internal/domain"
	"github.com/dvloznov/statement-relay/internal/ledger"
	"github.com/jackc/pgx/v5"
)

const requestsTable = "bank_requests"

// DB is the subset of *pgxpool.Pool the ledger uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RequestLedger implements ledger.Ledger over the bank_requests table.
type RequestLedger struct {
	db DB
}

// NewRequestLedger creates a ledger using db, usually a *pgxpool.Pool.
func NewRequestLedger(db DB) *RequestLedger {
	return &RequestLedger{db: db}
}

var selectPending = fmt.Sprintf(`
	SELECT
		request_id,
		institution_id,
		bank_code,
		account_kind,
		account,
		account_password,
		COALESCE(secondary_password, ''),
		COALESCE(representative_birth_or_biz_id, ''),
		COALESCE(biz_id, ''),
		period_start,
		period_end,
		status,
		created_at
	FROM %s
	WHERE status = $1
	ORDER BY created_at ASC, request_id ASC
	LIMIT 1
`, requestsTable)

// FetchNextPending implements ledger.Ledger.
func (l *RequestLedger) FetchNextPending(ctx context.Context) (*domain.Request, error) {
	var (
		r                      domain.Request
		kind, status           string
		periodStart, periodEnd time.Time
	)

	err := l.db.QueryRow(ctx, selectPending, string(domain.StatusPending)).Scan(
		&r.RequestID,
		&r.InstitutionID,
		&r.BankCode,
		&kind,
		&r.Account,
		&r.AccountPassword,
		&r.SecondaryPassword,
		&r.RepresentativeBirthOrBizID,
		&r.BizID,
		&periodStart,
		&periodEnd,
		&status,
		&r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FetchNextPending: %w", err)
	}

	r.AccountKind = domain.AccountKind(kind)
	r.Status = domain.Status(status)
	r.PeriodStart = civil.DateOf(periodStart)
	r.PeriodEnd = civil.DateOf(periodEnd)
	return &r, nil
}

var (
	lockStatus = fmt.Sprintf(`SELECT status FROM %s WHERE request_id = $1 FOR UPDATE`, requestsTable)

	updateStatus = fmt.Sprintf(`
		UPDATE %s
		SET status = $2,
		    error_message = NULLIF($3, ''),
		    raw_artifact_path = NULLIF($4, ''),
		    normalized_artifact_path = NULLIF($5, ''),
		    updated_at = now()
		WHERE request_id = $1
	`, requestsTable)
)

// UpdateStatus implements ledger.Ledger. The current row is locked so the
// lifecycle check and the write happen atomically.
func (l *RequestLedger) UpdateStatus(ctx context.Context, requestID string, status domain.Status, update domain.StatusUpdate) error {
	if err := ledger.ValidateUpdate(status, update); err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("UpdateStatus: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, lockStatus, requestID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("UpdateStatus: %w: %s", ledger.ErrNotFound, requestID)
	}
	if err != nil {
		return fmt.Errorf("UpdateStatus: lock row: %w", err)
	}

	if err := ledger.ValidateTransition(requestID, domain.Status(current), status); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, updateStatus,
		requestID,
		string(status),
		update.ErrorMessage,
		update.RawArtifactPath,
		update.NormalizedArtifactPath,
	); err != nil {
		return fmt.Errorf("UpdateStatus: update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("UpdateStatus: commit: %w", err)
	}
	return nil
}

var _ ledger.Ledger = (*RequestLedger)(nil)
