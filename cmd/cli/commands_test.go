package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dvloznov/statement-relay/internal/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef"

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNormalizeCommand(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw.csv")
	content := "조회기간,2025-05-01~2025-05-31\n" +
		"순번,거래일시,출금금액,입금금액,거래후잔액,거래내용,거래기록사항\n" +
		"1,2025/05/01 09:00:00,\"1,000\",0,\"9,000\",상점,메모\n" +
		"2,not a date,0,\"5,000\",\"14,000\",급여,\n"
	require.NoError(t, os.WriteFile(raw, []byte(content), 0o644))
	out := filepath.Join(dir, "out.xlsx")

	stdout, err := execute(t, "", "normalize", raw, "-o", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Wrote 1 records")
	assert.Contains(t, stdout, "skipped row")
	assert.FileExists(t, out)
}

func TestNormalizeCommand_RequiresOutput(t *testing.T) {
	_, err := execute(t, "", "normalize", "raw.csv")
	assert.Error(t, err)
}

func TestEncryptCommand(t *testing.T) {
	t.Setenv("DECRYPTION_KEY", testKey)

	stdout, err := execute(t, "first\r\n\nsecond\n", "encrypt")
	require.NoError(t, err)

	lines := strings.Fields(stdout)
	require.Len(t, lines, 2)

	c, err := credentials.NewCipher([]byte(testKey))
	require.NoError(t, err)
	for i, want := range []string{"first", "second"} {
		got, err := c.Decrypt(lines[i])
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestEncryptCommand_BadKey(t *testing.T) {
	t.Setenv("DECRYPTION_KEY", "short")
	_, err := execute(t, "x\n", "encrypt")
	assert.ErrorContains(t, err, "DECRYPTION_KEY")
}

func TestStageCommand(t *testing.T) {
	root := t.TempDir()
	t.Setenv("TRANSFER_BACKEND", "local")
	t.Setenv("LOCAL_TRANSFER_ROOT", root)

	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	stdout, err := execute(t, "", "stage", src, "/x/y/a.txt")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Staged")

	got, err := os.ReadFile(filepath.Join(root, "x", "y", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestRunOnceCommand_NothingPending(t *testing.T) {
	t.Setenv("DECRYPTION_KEY", testKey)
	t.Setenv("LEDGER_BACKEND", "memory")
	t.Setenv("TRANSFER_BACKEND", "local")
	t.Setenv("LOCAL_TRANSFER_ROOT", t.TempDir())
	t.Setenv("SCRATCH_ROOT", t.TempDir())
	t.Setenv("DROPBOX_DIR", "")
	t.Setenv("BQ_ARCHIVE_TRANSACTIONS", "")

	stdout, err := execute(t, "", "run-once")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No pending request.")
}
