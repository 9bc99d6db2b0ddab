// Package statement turns a bank's raw statement spreadsheet into canonical
// transaction records and writes them back out in the upload format.
package statement

import (
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/statement-relay/internal/domain"
)

// SkippedRow records a data row left out of the result and why.
type SkippedRow struct {
	// Row is the zero-based index in the source grid.
	Row    int
	Reason string
}

// Result is the outcome of normalizing one grid.
type Result struct {
	Records []domain.TransactionRecord
	Skipped []SkippedRow
}

// Normalizer converts raw statements. The zero value uses time.Local for
// source timestamps.
type Normalizer struct {
	// Location is the zone source timestamps are interpreted in.
	Location *time.Location
}

// Normalize loads the statement at path and converts it.
func (n *Normalizer) Normalize(path string) (*Result, error) {
	grid, err := LoadGrid(path)
	if err != nil {
		return nil, err
	}
	return n.NormalizeGrid(grid)
}

// NormalizeGrid converts an untyped grid. The first row containing
// HeaderMarker becomes the header; everything at or above it is discarded.
// Rows whose timestamp does not parse are skipped, never returned as errors.
func (n *Normalizer) NormalizeGrid(grid [][]string) (*Result, error) {
	headerIdx := findHeader(grid)
	if headerIdx < 0 {
		return nil, &HeaderNotFoundError{Marker: HeaderMarker}
	}

	cols := make(map[string]int)
	for i, name := range grid[headerIdx] {
		name = strings.TrimSpace(name)
		if _, dup := cols[name]; !dup && name != "" {
			cols[name] = i
		}
	}
	for _, c := range RequiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, &MissingColumnError{Column: c}
		}
	}

	loc := n.Location
	if loc == nil {
		loc = time.Local
	}

	res := &Result{}
	for i := headerIdx + 1; i < len(grid); i++ {
		row := grid[i]
		cell := func(name string) string {
			idx := cols[name]
			if idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		ts, ok := parseTimestamp(cell(ColTimestamp), loc)
		if !ok {
			res.Skipped = append(res.Skipped, SkippedRow{Row: i, Reason: "unparseable timestamp"})
			continue
		}

		withdrawal, ok1 := CleanAmount(cell(ColWithdrawal))
		deposit, ok2 := CleanAmount(cell(ColDeposit))
		balance, ok3 := CleanAmount(cell(ColBalance))
		if !ok1 || !ok2 || !ok3 {
			res.Skipped = append(res.Skipped, SkippedRow{Row: i, Reason: "amount out of range"})
			continue
		}
		if withdrawal != 0 && deposit != 0 {
			res.Skipped = append(res.Skipped, SkippedRow{Row: i, Reason: "both withdrawal and deposit set"})
			continue
		}

		res.Records = append(res.Records, domain.TransactionRecord{
			Direction:        classify(withdrawal),
			Timestamp:        ts,
			WithdrawalAmount: withdrawal,
			DepositAmount:    deposit,
			BalanceAfter:     balance,
			// Business mapping: the note column is the memo, the description is the counterparty.
			Memo:         cell(ColNote),
			Counterparty: cell(ColDescription),
		})
	}
	return res, nil
}

func findHeader(grid [][]string) int {
	for i, row := range grid {
		for _, c := range row {
			if strings.Contains(c, HeaderMarker) {
				return i
			}
		}
	}
	return -1
}

func parseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range SourceTimestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CleanAmount strips every non-digit character from s and parses the rest.
// An empty remainder is zero. ok is false only when the digits overflow int64.
func CleanAmount(s string) (amount int64, ok bool) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, true
	}
	v, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func classify(withdrawal int64) domain.Direction {
	if withdrawal != 0 {
		return domain.DirectionWithdrawal
	}
	return domain.DirectionDeposit
}
