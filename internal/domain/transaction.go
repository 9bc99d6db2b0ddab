package domain

import (
	"time"
)

// Direction classifies a transaction as money out or money in.
type Direction string

const (
	DirectionWithdrawal Direction = "withdrawal"
	DirectionDeposit    Direction = "deposit"
)

// Label returns the human-readable label used in the upload artifact.
func (d Direction) Label() string {
	if d == DirectionWithdrawal {
		return "출금"
	}
	return "입금"
}

// TransactionRecord is one row of a normalized statement.
// Amounts are non-negative integers in the minor currency unit; at most one
// of WithdrawalAmount and DepositAmount is nonzero.
type TransactionRecord struct {
	Direction        Direction
	Timestamp        time.Time
	WithdrawalAmount int64
	DepositAmount    int64
	BalanceAfter     int64
	Memo             string // from the "transaction record note" column
	Counterparty     string // from the "transaction description" column
}
