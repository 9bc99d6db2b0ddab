package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-relay/internal/domain"
)

// StatementTransactionRow mirrors a row of statement_transactions.
type StatementTransactionRow struct {
	RequestID     string `bigquery:"request_id"`     // REQUIRED
	AttemptID     string `bigquery:"attempt_id"`     // REQUIRED
	InstitutionID string `bigquery:"institution_id"` // REQUIRED
	BankCode      string `bigquery:"bank_code"`      // REQUIRED

	LineNo    int64  `bigquery:"line_no"`   // REQUIRED, 1-based position in the statement
	Direction string `bigquery:"direction"` // REQUIRED

	BookingDatetime civil.DateTime `bigquery:"booking_datetime"` // REQUIRED

	WithdrawalAmount int64 `bigquery:"withdrawal_amount"` // REQUIRED
	DepositAmount    int64 `bigquery:"deposit_amount"`    // REQUIRED
	BalanceAfter     int64 `bigquery:"balance_after"`     // REQUIRED

	Memo         bigquery.NullString `bigquery:"memo"`         // NULLABLE
	Counterparty bigquery.NullString `bigquery:"counterparty"` // NULLABLE

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

// ArchiveBatch identifies where a set of records came from.
type ArchiveBatch struct {
	RequestID     string
	AttemptID     string
	InstitutionID string
	BankCode      string
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

// toTransactionRows converts records in statement order.
func toTransactionRows(batch ArchiveBatch, records []domain.TransactionRecord, created time.Time) []*StatementTransactionRow {
	rows := make([]*StatementTransactionRow, 0, len(records))
	for i, rec := range records {
		rows = append(rows, &StatementTransactionRow{
			RequestID:        batch.RequestID,
			AttemptID:        batch.AttemptID,
			InstitutionID:    batch.InstitutionID,
			BankCode:         batch.BankCode,
			LineNo:           int64(i + 1),
			Direction:        string(rec.Direction),
			BookingDatetime:  civil.DateTimeOf(rec.Timestamp),
			WithdrawalAmount: rec.WithdrawalAmount,
			DepositAmount:    rec.DepositAmount,
			BalanceAfter:     rec.BalanceAfter,
			Memo:             nullString(rec.Memo),
			Counterparty:     nullString(rec.Counterparty),
			CreatedTS:        created,
		})
	}
	return rows
}
