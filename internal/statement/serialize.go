package statement

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/statement-relay/internal/domain"
)

// UploadSheetName is the single sheet of the upload artifact.
const UploadSheetName = "거래내역"

// Serialize writes records to path as an .xlsx upload artifact: one header
// row of UploadHeaders followed by one row per record, in order.
func Serialize(path string, records []domain.TransactionRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), UploadSheetName); err != nil {
		return fmt.Errorf("Serialize: naming sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(UploadSheetName)
	if err != nil {
		return fmt.Errorf("Serialize: stream writer: %w", err)
	}

	header := make([]interface{}, len(UploadHeaders))
	for i, h := range UploadHeaders {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("Serialize: header row: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("Serialize: row %d: %w", i, err)
		}
		row := []interface{}{
			r.Direction.Label(),
			r.Timestamp.Format(UploadTimestampLayout),
			r.WithdrawalAmount,
			r.DepositAmount,
			r.BalanceAfter,
			r.Memo,
			r.Counterparty,
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("Serialize: row %d: %w", i, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("Serialize: flush: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("Serialize: saving %s: %w", path, err)
	}
	return nil
}
