package statement

// HeaderMarker identifies the header row of a raw statement ("sequence number").
const HeaderMarker = "순번"

// Source column labels in the raw statement.
const (
	ColTimestamp   = "거래일시"   // transaction timestamp
	ColWithdrawal  = "출금금액"   // withdrawal amount
	ColDeposit     = "입금금액"   // deposit amount
	ColBalance     = "거래후잔액"  // balance after
	ColDescription = "거래내용"   // transaction description
	ColNote        = "거래기록사항" // transaction record note
)

// RequiredColumns are checked in this order; the first missing one is reported.
var RequiredColumns = []string{
	ColTimestamp,
	ColWithdrawal,
	ColDeposit,
	ColBalance,
	ColDescription,
	ColNote,
}

// Upload artifact headers, in output column order.
var UploadHeaders = []string{
	"구분",   // direction
	"거래일자", // transaction date
	"출금액",  // withdrawal
	"입금액",  // deposit
	"잔액",   // balance after
	"적요",   // memo
	"거래처",  // counterparty
}

// SourceTimestampLayouts are tried in order when parsing ColTimestamp.
var SourceTimestampLayouts = []string{
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
	"2006.01.02 15:04:05",
}

// UploadTimestampLayout is the canonical timestamp format of the upload artifact.
const UploadTimestampLayout = "2006-01-02 15:04:05"
