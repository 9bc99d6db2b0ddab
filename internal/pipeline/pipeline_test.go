package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/statement-relay/internal/banks"
	"github.com/dvloznov/statement-relay/internal/credentials"
	"github.com/dvloznov/statement-relay/internal/domain"
	"github.com/dvloznov/statement-relay/internal/ledger/inmemory"
	"github.com/dvloznov/statement-relay/internal/logger"
	"github.com/dvloznov/statement-relay/internal/pipeline"
	"github.com/dvloznov/statement-relay/internal/statement"
	"github.com/dvloznov/statement-relay/internal/transfer"
)

const (
	testKey      = "0123456789abcdef"
	testPassword = "s3cr3t-pw"
)

var attemptTime = time.Date(2025, 6, 1, 9, 30, 5, 0, time.UTC)

// MockLedger is a mock implementation of ledger.Ledger for testing.
type MockLedger struct {
	FetchNextPendingFunc func(ctx context.Context) (*domain.Request, error)
	UpdateStatusFunc     func(ctx context.Context, requestID string, status domain.Status, update domain.StatusUpdate) error
}

func (m *MockLedger) FetchNextPending(ctx context.Context) (*domain.Request, error) {
	if m.FetchNextPendingFunc != nil {
		return m.FetchNextPendingFunc(ctx)
	}
	return nil, nil
}

func (m *MockLedger) UpdateStatus(ctx context.Context, requestID string, status domain.Status, update domain.StatusUpdate) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, requestID, status, update)
	}
	return nil
}

// MockStager is a mock implementation of ArtifactStager for testing.
type MockStager struct {
	StageFunc func(ctx context.Context, localPath, remotePath string) error
}

func (m *MockStager) Stage(ctx context.Context, localPath, remotePath string) error {
	if m.StageFunc != nil {
		return m.StageFunc(ctx, localPath, remotePath)
	}
	return nil
}

// MockNormalizer is a mock implementation of StatementNormalizer for testing.
type MockNormalizer struct {
	NormalizeFunc func(path string) (*statement.Result, error)
}

func (m *MockNormalizer) Normalize(path string) (*statement.Result, error) {
	if m.NormalizeFunc != nil {
		return m.NormalizeFunc(path)
	}
	return &statement.Result{}, nil
}

// MockArchiver is a mock implementation of TransactionArchiver for testing.
type MockArchiver struct {
	ArchiveFunc func(ctx context.Context, req *domain.Request, attemptID string, records []domain.TransactionRecord) error
}

func (m *MockArchiver) Archive(ctx context.Context, req *domain.Request, attemptID string, records []domain.TransactionRecord) error {
	if m.ArchiveFunc != nil {
		return m.ArchiveFunc(ctx, req, attemptID, records)
	}
	return nil
}

// writeRawStatement writes an NH-style export: a title row, the header on
// row 2, ten valid rows and one row with an unparseable date.
func writeRawStatement(path string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	rows := [][]interface{}{
		{"거래내역조회"},
		{"순번", "거래일시", "출금금액", "입금금액", "거래후잔액", "거래내용", "거래기록사항"},
	}
	balance := 100000
	for i := 1; i <= 10; i++ {
		withdrawal, deposit := "0", "0"
		if i%2 == 0 {
			deposit = "5,000"
			balance += 5000
		} else {
			withdrawal = "1,000"
			balance -= 1000
		}
		rows = append(rows, []interface{}{
			i, fmt.Sprintf("2025/05/%02d 09:00:00", i), withdrawal, deposit,
			fmt.Sprintf("%d", balance), fmt.Sprintf("거래처%d", i), "",
		})
	}
	rows = append(rows, []interface{}{11, "2025/13/45 99:99:99", "1,000", "0", "0", "x", "y"})

	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

// statementAdapter retrieves the fixture statement and records its input.
func statementAdapter(got *banks.RetrievalInput) banks.Adapter {
	return banks.AdapterFunc(func(ctx context.Context, in banks.RetrievalInput) (banks.Artifacts, error) {
		if got != nil {
			*got = in
		}
		raw := filepath.Join(in.WorkDir, "NH_Transactions.xlsx")
		if err := writeRawStatement(raw); err != nil {
			return banks.Artifacts{}, err
		}
		return banks.Artifacts{RawPath: raw}, nil
	})
}

type fixture struct {
	cipher  *credentials.Cipher
	store   *inmemory.Store
	scratch string
	remote  string
	deps    pipeline.Deps
}

func newFixture(t *testing.T, adapter banks.Adapter) *fixture {
	t.Helper()

	c, err := credentials.NewCipher([]byte(testKey))
	require.NoError(t, err)

	remote := t.TempDir()
	local, err := transfer.NewLocalStore(remote)
	require.NoError(t, err)

	f := &fixture{
		cipher:  c,
		store:   inmemory.NewStore(),
		scratch: t.TempDir(),
		remote:  remote,
	}
	f.deps = pipeline.Deps{
		Ledger: f.store,
		Cipher: c,
		Resolver: banks.NewRegistry(banks.Entry{
			Key:     banks.Key{BankCode: "011", AccountKind: domain.AccountPersonal},
			Adapter: adapter,
		}),
		Normalizer:  &statement.Normalizer{Location: time.UTC},
		Stager:      transfer.NewStager(local),
		Layout:      transfer.Layout{BaseDir: "/statements"},
		ScratchRoot: f.scratch,
		Now:         func() time.Time { return attemptTime },
	}
	return f
}

func (f *fixture) request() *domain.Request {
	return &domain.Request{
		RequestID:                  "42",
		InstitutionID:              "H001",
		BankCode:                   "011",
		AccountKind:                domain.AccountPersonal,
		Account:                    "302-1234-5678-91",
		AccountPassword:            f.cipher.Encrypt(testPassword),
		RepresentativeBirthOrBizID: f.cipher.Encrypt("1990-01-15"),
		PeriodStart:                civil.Date{Year: 2025, Month: 5, Day: 1},
		PeriodEnd:                  civil.Date{Year: 2025, Month: 5, Day: 31},
	}
}

func (f *fixture) submit(t *testing.T, req *domain.Request) {
	t.Helper()
	_, err := f.store.Submit(context.Background(), req)
	require.NoError(t, err)
}

func (f *fixture) orchestrator(t *testing.T) *pipeline.Orchestrator {
	t.Helper()
	o, err := pipeline.NewOrchestrator(f.deps)
	require.NoError(t, err)
	return o
}

func (f *fixture) stored(t *testing.T, id string) *domain.Request {
	t.Helper()
	r, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}

func TestPollOnce_EndToEnd(t *testing.T) {
	var input banks.RetrievalInput
	f := newFixture(t, statementAdapter(&input))
	f.submit(t, f.request())

	out, err := f.orchestrator(t).PollOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, domain.StatusSucceeded, out.Status)
	assert.Empty(t, out.ErrorMessage)
	assert.Equal(t, "/statements/H001_42_20250601093005/42_API_20250601093005.xlsx", out.RawArtifactPath)
	assert.Equal(t, "/statements/H001_42_20250601093005/42_20250601093005.xlsx", out.NormalizedArtifactPath)

	// Credentials reached the adapter decrypted and formatted.
	assert.Equal(t, "3021234567891", input.Account)
	assert.Equal(t, testPassword, input.Password)
	assert.Equal(t, "900115", input.Identifier)
	assert.Equal(t, civil.Date{Year: 2025, Month: 5, Day: 1}, input.PeriodStart)
	assert.Equal(t, filepath.Join(f.scratch, "H001_42_20250601093005"), input.WorkDir)

	stored := f.stored(t, "42")
	assert.Equal(t, domain.StatusSucceeded, stored.Status)
	assert.Equal(t, out.RawArtifactPath, stored.RawArtifactPath)
	assert.Equal(t, out.NormalizedArtifactPath, stored.NormalizedArtifactPath)
	assert.Empty(t, stored.ErrorMessage)

	// Both artifacts were staged; the normalized one holds exactly ten records.
	_, err = os.Stat(filepath.Join(f.remote, filepath.FromSlash(out.RawArtifactPath)))
	require.NoError(t, err)
	grid, err := statement.LoadGrid(filepath.Join(f.remote, filepath.FromSlash(out.NormalizedArtifactPath)))
	require.NoError(t, err)
	require.Len(t, grid, 11)
	assert.Equal(t, statement.UploadHeaders, grid[0])
	assert.Equal(t, "출금", grid[1][0])
	assert.Equal(t, "입금", grid[2][0])

	// Scratch is removed after the attempt.
	_, err = os.Stat(input.WorkDir)
	assert.True(t, os.IsNotExist(err))
}

func TestPollOnce_NothingPending(t *testing.T) {
	f := newFixture(t, statementAdapter(nil))
	out, err := f.orchestrator(t).PollOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestProcess_RetrievalFailure(t *testing.T) {
	f := newFixture(t, banks.AdapterFunc(func(ctx context.Context, in banks.RetrievalInput) (banks.Artifacts, error) {
		return banks.Artifacts{}, fmt.Errorf("login rejected for password %s", in.Password)
	}))
	f.submit(t, f.request())

	out, err := f.orchestrator(t).PollOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, out.Status)
	assert.Equal(t, "RetrievalError", out.ErrorKind)

	stored := f.stored(t, "42")
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.True(t, strings.HasPrefix(stored.ErrorMessage, "RetrievalError: "))
	assert.NotContains(t, stored.ErrorMessage, testPassword)
	assert.Empty(t, stored.RawArtifactPath)
	assert.Empty(t, stored.NormalizedArtifactPath)
}

func TestProcess_LogsRedactedErrorAtInfoLevel(t *testing.T) {
	f := newFixture(t, banks.AdapterFunc(func(ctx context.Context, in banks.RetrievalInput) (banks.Artifacts, error) {
		return banks.Artifacts{}, fmt.Errorf("session expired at step otp-7 for password %s", in.Password)
	}))
	f.submit(t, f.request())

	buf := &bytes.Buffer{}
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(buf).Level(zerolog.InfoLevel))

	out, err := f.orchestrator(t).PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "RetrievalError", out.ErrorKind)

	logged := buf.String()
	assert.Contains(t, logged, "session expired at step otp-7")
	assert.Contains(t, logged, `"level":"error"`)
	assert.Contains(t, logged, `"request_id":"42"`)
	assert.NotContains(t, logged, testPassword)
}

func TestProcess_FailureKinds(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(f *fixture, r *domain.Request)
		wantKind string
	}{
		{
			name:     "unsupported bank",
			mutate:   func(f *fixture, r *domain.Request) { r.BankCode = "999" },
			wantKind: "UnsupportedBankError",
		},
		{
			name:     "corporate not registered",
			mutate:   func(f *fixture, r *domain.Request) { r.AccountKind = domain.AccountCorporate; r.BizID = "123-45-67890" },
			wantKind: "UnsupportedBankError",
		},
		{
			name:     "malformed ciphertext",
			mutate:   func(f *fixture, r *domain.Request) { r.AccountPassword = "not-hex!" },
			wantKind: "DecryptionError",
		},
		{
			name: "wrong key",
			mutate: func(f *fixture, r *domain.Request) {
				other, _ := credentials.NewCipher([]byte("fedcba9876543210"))
				r.AccountPassword = other.Encrypt(testPassword)
			},
			wantKind: "DecryptionError",
		},
		{
			name: "reversed period",
			mutate: func(f *fixture, r *domain.Request) {
				r.PeriodStart = civil.Date{Year: 2025, Month: 6, Day: 1}
			},
			wantKind: "ValidationError",
		},
		{
			name:     "bad birth date",
			mutate:   func(f *fixture, r *domain.Request) { r.RepresentativeBirthOrBizID = f.cipher.Encrypt("15/01/1990") },
			wantKind: "ValidationError",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			f := newFixture(t, banks.AdapterFunc(func(ctx context.Context, in banks.RetrievalInput) (banks.Artifacts, error) {
				called = true
				return banks.Artifacts{}, errors.New("unreachable")
			}))
			req := f.request()
			tt.mutate(f, req)
			f.submit(t, req)

			out, err := f.orchestrator(t).PollOnce(context.Background())
			require.NoError(t, err)

			assert.False(t, called, "adapter must not run")
			assert.Equal(t, domain.StatusFailed, out.Status)
			assert.Equal(t, tt.wantKind, out.ErrorKind)

			stored := f.stored(t, "42")
			assert.Equal(t, domain.StatusFailed, stored.Status)
			assert.True(t, strings.HasPrefix(stored.ErrorMessage, tt.wantKind+": "), stored.ErrorMessage)
			assert.NotContains(t, stored.ErrorMessage, "1990")
			assert.NotContains(t, stored.ErrorMessage, testPassword)
		})
	}
}

func TestProcess_ClaimFailureAttemptsNothing(t *testing.T) {
	called := false
	f := newFixture(t, banks.AdapterFunc(func(ctx context.Context, in banks.RetrievalInput) (banks.Artifacts, error) {
		called = true
		return banks.Artifacts{}, nil
	}))

	var statuses []domain.Status
	f.deps.Ledger = &MockLedger{
		UpdateStatusFunc: func(ctx context.Context, id string, status domain.Status, u domain.StatusUpdate) error {
			statuses = append(statuses, status)
			return errors.New("ledger unavailable")
		},
	}

	_, err := f.orchestrator(t).Process(context.Background(), f.request())
	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, []domain.Status{domain.StatusInProgress}, statuses)

	entries, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcess_TransferFailure(t *testing.T) {
	f := newFixture(t, statementAdapter(nil))
	staged := 0
	f.deps.Stager = &MockStager{StageFunc: func(ctx context.Context, local, remote string) error {
		staged++
		if staged == 2 {
			return errors.New("connection reset by peer")
		}
		return nil
	}}
	f.submit(t, f.request())

	out, err := f.orchestrator(t).PollOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "TransferError", out.ErrorKind)
	stored := f.stored(t, "42")
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Empty(t, stored.RawArtifactPath)
	assert.Empty(t, stored.NormalizedArtifactPath)
}

func TestProcess_HeaderNotFound(t *testing.T) {
	f := newFixture(t, banks.AdapterFunc(func(ctx context.Context, in banks.RetrievalInput) (banks.Artifacts, error) {
		raw := filepath.Join(in.WorkDir, "statement.csv")
		return banks.Artifacts{RawPath: raw}, os.WriteFile(raw, []byte("a,b,c\n1,2,3\n"), 0o600)
	}))
	f.submit(t, f.request())

	out, err := f.orchestrator(t).PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "HeaderNotFoundError", out.ErrorKind)
}

func TestProcess_FooterOnlyStatement(t *testing.T) {
	f := newFixture(t, banks.AdapterFunc(func(ctx context.Context, in banks.RetrievalInput) (banks.Artifacts, error) {
		raw := filepath.Join(in.WorkDir, "statement.csv")
		body := "순번,거래일시,출금금액,입금금액,거래후잔액,거래내용,거래기록사항\n" +
			",합계,0,0,,,\n"
		return banks.Artifacts{RawPath: raw}, os.WriteFile(raw, []byte(body), 0o600)
	}))
	f.submit(t, f.request())

	out, err := f.orchestrator(t).PollOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, domain.StatusSucceeded, out.Status)
	assert.Empty(t, out.ErrorKind)

	grid, err := statement.LoadGrid(filepath.Join(f.remote, filepath.FromSlash(out.NormalizedArtifactPath)))
	require.NoError(t, err)
	require.Len(t, grid, 1)
	assert.Equal(t, statement.UploadHeaders, grid[0])
}

func TestProcess_UsesAdapterUploadArtifact(t *testing.T) {
	f := newFixture(t, banks.AdapterFunc(func(ctx context.Context, in banks.RetrievalInput) (banks.Artifacts, error) {
		raw := filepath.Join(in.WorkDir, "raw.xls")
		upload := filepath.Join(in.WorkDir, "upload.xlsx")
		if err := os.WriteFile(raw, []byte("raw"), 0o600); err != nil {
			return banks.Artifacts{}, err
		}
		if err := os.WriteFile(upload, []byte("upload"), 0o600); err != nil {
			return banks.Artifacts{}, err
		}
		return banks.Artifacts{RawPath: raw, UploadPath: upload}, nil
	}))
	f.deps.Normalizer = &MockNormalizer{NormalizeFunc: func(path string) (*statement.Result, error) {
		return nil, errors.New("normalizer must not run")
	}}
	f.submit(t, f.request())

	out, err := f.orchestrator(t).PollOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StatusSucceeded, out.Status, out.ErrorMessage)
	assert.True(t, strings.HasSuffix(out.RawArtifactPath, "/42_API_20250601093005.xls"))

	got, err := os.ReadFile(filepath.Join(f.remote, filepath.FromSlash(out.NormalizedArtifactPath)))
	require.NoError(t, err)
	assert.Equal(t, "upload", string(got))
}

func TestProcess_EmptyUploadArtifactIsRebuilt(t *testing.T) {
	f := newFixture(t, banks.AdapterFunc(func(ctx context.Context, in banks.RetrievalInput) (banks.Artifacts, error) {
		raw := filepath.Join(in.WorkDir, "NH_Transactions.xlsx")
		upload := filepath.Join(in.WorkDir, "upload.xlsx")
		if err := writeRawStatement(raw); err != nil {
			return banks.Artifacts{}, err
		}
		if err := os.WriteFile(upload, nil, 0o600); err != nil {
			return banks.Artifacts{}, err
		}
		return banks.Artifacts{RawPath: raw, UploadPath: upload}, nil
	}))
	f.submit(t, f.request())

	out, err := f.orchestrator(t).PollOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StatusSucceeded, out.Status, out.ErrorMessage)

	grid, err := statement.LoadGrid(filepath.Join(f.remote, filepath.FromSlash(out.NormalizedArtifactPath)))
	require.NoError(t, err)
	assert.Len(t, grid, 11)
}

func TestProcess_MissingRawArtifact(t *testing.T) {
	f := newFixture(t, banks.AdapterFunc(func(ctx context.Context, in banks.RetrievalInput) (banks.Artifacts, error) {
		return banks.Artifacts{RawPath: filepath.Join(in.WorkDir, "never-written.xls")}, nil
	}))
	f.submit(t, f.request())

	out, err := f.orchestrator(t).PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "RetrievalError", out.ErrorKind)
}

func TestProcess_AdapterPanic(t *testing.T) {
	f := newFixture(t, banks.AdapterFunc(func(ctx context.Context, in banks.RetrievalInput) (banks.Artifacts, error) {
		panic("element not found")
	}))
	f.submit(t, f.request())

	out, err := f.orchestrator(t).PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, out.Status)
	assert.Equal(t, "InternalError", out.ErrorKind)
	assert.Contains(t, f.stored(t, "42").ErrorMessage, "element not found")
}

func TestProcess_CancelledAttemptIsStillRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, banks.AdapterFunc(func(actx context.Context, in banks.RetrievalInput) (banks.Artifacts, error) {
		cancel()
		return banks.Artifacts{}, actx.Err()
	}))
	f.submit(t, f.request())

	out, err := f.orchestrator(t).PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, out.Status)
	assert.Equal(t, domain.StatusFailed, f.stored(t, "42").Status)
}

func TestProcess_ArchivesNormalizedRecords(t *testing.T) {
	f := newFixture(t, statementAdapter(nil))
	var archived []domain.TransactionRecord
	var archivedAttempt string
	f.deps.Archiver = &MockArchiver{ArchiveFunc: func(ctx context.Context, req *domain.Request, attemptID string, records []domain.TransactionRecord) error {
		archived = records
		archivedAttempt = attemptID
		return nil
	}}
	f.submit(t, f.request())

	out, err := f.orchestrator(t).PollOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StatusSucceeded, out.Status, out.ErrorMessage)
	assert.Len(t, archived, 10)
	assert.Equal(t, out.AttemptID, archivedAttempt)
}

func TestProcess_KeepScratch(t *testing.T) {
	var input banks.RetrievalInput
	f := newFixture(t, statementAdapter(&input))
	f.deps.KeepScratch = true
	f.submit(t, f.request())

	_, err := f.orchestrator(t).PollOnce(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(input.WorkDir, "NH_Transactions.xlsx"))
	assert.NoError(t, err)
}

func TestProcess_RequestsAreIndependent(t *testing.T) {
	calls := 0
	f := newFixture(t, banks.AdapterFunc(func(ctx context.Context, in banks.RetrievalInput) (banks.Artifacts, error) {
		calls++
		if calls == 1 {
			return banks.Artifacts{}, errors.New("session timeout")
		}
		return statementAdapter(nil).Retrieve(ctx, in)
	}))
	first := f.request()
	second := f.request()
	second.RequestID = "43"
	f.submit(t, first)
	f.submit(t, second)

	o := f.orchestrator(t)
	out1, err := o.PollOnce(context.Background())
	require.NoError(t, err)
	out2, err := o.PollOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "42", out1.RequestID)
	assert.Equal(t, domain.StatusFailed, out1.Status)
	assert.Equal(t, "43", out2.RequestID)
	assert.Equal(t, domain.StatusSucceeded, out2.Status)
}

func TestNewOrchestrator_RequiresDeps(t *testing.T) {
	_, err := pipeline.NewOrchestrator(pipeline.Deps{})
	assert.Error(t, err)
}
