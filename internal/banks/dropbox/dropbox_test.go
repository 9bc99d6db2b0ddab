package dropbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-relay/internal/banks"
)

func TestAdapter_PicksNewestStatement(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "BANK001", "3020717230451")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	older := filepath.Join(dir, "april.xlsx")
	newer := filepath.Join(dir, "may.xlsx")
	require.NoError(t, os.WriteFile(older, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(newer, []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	a := New(root, "BANK001", time.UTC)
	a.now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }

	work := t.TempDir()
	arts, err := a.Retrieve(context.Background(), banks.RetrievalInput{Account: "3020717230451", WorkDir: work})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(work, "BANK001_Transactions_20250601090000.xlsx"), arts.RawPath)
	assert.Empty(t, arts.UploadPath)
	data, err := os.ReadFile(arts.RawPath)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestAdapter_NoData(t *testing.T) {
	a := New(t.TempDir(), "BANK001", time.UTC)
	_, err := a.Retrieve(context.Background(), banks.RetrievalInput{Account: "1", WorkDir: t.TempDir()})
	assert.True(t, errors.Is(err, banks.ErrNoData))
}

var may2025 = banks.RetrievalInput{
	Account:     "3020717230451",
	PeriodStart: civil.Date{Year: 2025, Month: 5, Day: 1},
	PeriodEnd:   civil.Date{Year: 2025, Month: 5, Day: 31},
}

func writeStatement(t *testing.T, dir, name, body string, mod time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestAdapter_FiltersByPeriod(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]time.Time
		want  string
	}{
		{
			name: "named range covering the period wins over a newer mismatch",
			files: map[string]time.Time{
				"NH_20250501-20250531.xlsx": time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
				"NH_20250601-20250630.xlsx": time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
			},
			want: "NH_20250501-20250531.xlsx",
		},
		{
			name: "unnamed file exported before the period is ignored",
			files: map[string]time.Time{
				"april.xlsx": time.Date(2025, 4, 30, 23, 0, 0, 0, time.UTC),
				"may.xlsx":   time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC),
			},
			want: "may.xlsx",
		},
		{
			name: "wider named range still covers",
			files: map[string]time.Time{
				"export_20250101_20251231.csv": time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			},
			want: "export_20250101_20251231.csv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			dir := filepath.Join(root, "BANK001", may2025.Account)
			require.NoError(t, os.MkdirAll(dir, 0o755))
			for name, mod := range tt.files {
				writeStatement(t, dir, name, name, mod)
			}

			in := may2025
			in.WorkDir = t.TempDir()
			arts, err := New(root, "BANK001", time.UTC).Retrieve(context.Background(), in)
			require.NoError(t, err)

			data, err := os.ReadFile(arts.RawPath)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestAdapter_NoStatementForPeriod(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "BANK001", may2025.Account)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeStatement(t, dir, "NH_20250401-20250430.xlsx", "april", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	writeStatement(t, dir, "old.xlsx", "old", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	in := may2025
	in.WorkDir = t.TempDir()
	_, err := New(root, "BANK001", time.UTC).Retrieve(context.Background(), in)
	assert.True(t, errors.Is(err, banks.ErrNoData))
}

func TestAdapter_PeriodStartUsesLocation(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	root := t.TempDir()
	dir := filepath.Join(root, "BANK001", may2025.Account)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	// 2025-04-30 16:00 UTC is already May 1 in Seoul.
	writeStatement(t, dir, "export.xlsx", "may", time.Date(2025, 4, 30, 16, 0, 0, 0, time.UTC))

	in := may2025
	in.WorkDir = t.TempDir()
	_, err = New(root, "BANK001", seoul).Retrieve(context.Background(), in)
	require.NoError(t, err)

	in.WorkDir = t.TempDir()
	_, err = New(root, "BANK001", time.UTC).Retrieve(context.Background(), in)
	assert.True(t, errors.Is(err, banks.ErrNoData))
}
