// Package bigquery implements the request ledger and the transaction
// archive on BigQuery.
package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-relay/internal/domain"
)

const (
	requestsTable     = "bank_requests"
	transactionsTable = "statement_transactions"
)

// BankRequestRow mirrors a row of bank_requests.
type BankRequestRow struct {
	RequestID     string `bigquery:"request_id"`     // REQUIRED
	InstitutionID string `bigquery:"institution_id"` // REQUIRED
	BankCode      string `bigquery:"bank_code"`      // REQUIRED
	AccountKind   string `bigquery:"account_kind"`   // REQUIRED
	Account       string `bigquery:"account"`        // REQUIRED

	AccountPassword            string              `bigquery:"account_password"`               // REQUIRED
	SecondaryPassword          bigquery.NullString `bigquery:"secondary_password"`             // NULLABLE
	RepresentativeBirthOrBizID bigquery.NullString `bigquery:"representative_birth_or_biz_id"` // NULLABLE
	BizID                      bigquery.NullString `bigquery:"biz_id"`                         // NULLABLE

	PeriodStart civil.Date `bigquery:"period_start"` // REQUIRED
	PeriodEnd   civil.Date `bigquery:"period_end"`   // REQUIRED

	Status                 string              `bigquery:"status"`                   // REQUIRED
	ErrorMessage           bigquery.NullString `bigquery:"error_message"`            // NULLABLE
	RawArtifactPath        bigquery.NullString `bigquery:"raw_artifact_path"`        // NULLABLE
	NormalizedArtifactPath bigquery.NullString `bigquery:"normalized_artifact_path"` // NULLABLE

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE
}

// ToRequest converts the row to the domain model.
func (r *BankRequestRow) ToRequest() *domain.Request {
	return &domain.Request{
		RequestID:                  r.RequestID,
		InstitutionID:              r.InstitutionID,
		BankCode:                   r.BankCode,
		AccountKind:                domain.AccountKind(r.AccountKind),
		Account:                    r.Account,
		AccountPassword:            r.AccountPassword,
		SecondaryPassword:          r.SecondaryPassword.StringVal,
		RepresentativeBirthOrBizID: r.RepresentativeBirthOrBizID.StringVal,
		BizID:                      r.BizID.StringVal,
		PeriodStart:                r.PeriodStart,
		PeriodEnd:                  r.PeriodEnd,
		Status:                     domain.Status(r.Status),
		ErrorMessage:               r.ErrorMessage.StringVal,
		RawArtifactPath:            r.RawArtifactPath.StringVal,
		NormalizedArtifactPath:     r.NormalizedArtifactPath.StringVal,
		CreatedAt:                  r.CreatedTS,
	}
}
