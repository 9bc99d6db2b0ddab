// Package app assembles the pipeline from configuration. The worker and the
// CLI share it so both run the same wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	bq "cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-relay/internal/banks"
	"github.com/dvloznov/statement-relay/internal/banks/dropbox"
	"github.com/dvloznov/statement-relay/internal/config"
	"github.com/dvloznov/statement-relay/internal/credentials"
	"github.com/dvloznov/statement-relay/internal/domain"
	infraBQ "github.com/dvloznov/statement-relay/internal/infra/bigquery"
	"github.com/dvloznov/statement-relay/internal/infra/postgres"
	"github.com/dvloznov/statement-relay/internal/ledger"
	"github.com/dvloznov/statement-relay/internal/ledger/inmemory"
	"github.com/dvloznov/statement-relay/internal/logger"
	"github.com/dvloznov/statement-relay/internal/pipeline"
	"github.com/dvloznov/statement-relay/internal/statement"
	"github.com/dvloznov/statement-relay/internal/transfer"
)

// App holds the assembled pipeline and everything that must be closed with it.
type App struct {
	Orchestrator *pipeline.Orchestrator
	Ledger       ledger.Ledger

	// Memory is set when the in-memory ledger is selected.
	Memory *inmemory.Store

	closers []io.Closer
}

// Build wires the orchestrator for cfg. cfg must already be validated.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	cipher, err := NewCipher(cfg)
	if err != nil {
		return nil, err
	}

	if err := a.openLedger(ctx, cfg); err != nil {
		return nil, err
	}

	stager, err := OpenStager(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, stager)

	registry, err := NewRegistry(cfg)
	if err != nil {
		return nil, err
	}

	normalizer, err := NewNormalizer(cfg)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Ledger:      a.Ledger,
		Cipher:      cipher,
		Resolver:    registry,
		Normalizer:  normalizer,
		Stager:      stager,
		Layout:      transfer.Layout{BaseDir: cfg.Transfer.RemoteBaseDir},
		ScratchRoot: cfg.ScratchRoot,
		KeepScratch: cfg.KeepScratch,
	}

	if cfg.BigQuery.ArchiveTransactions {
		client, err := bq.NewClient(ctx, cfg.BigQuery.Project)
		if err != nil {
			return nil, fmt.Errorf("bigquery client: %w", err)
		}
		a.closers = append(a.closers, client)
		deps.Archiver = infraBQ.NewTransactionArchiveWithClient(client, cfg.BigQuery.Project, cfg.BigQuery.Dataset)
	}

	a.Orchestrator, err = pipeline.NewOrchestrator(deps)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("ledger", cfg.LedgerBackend).
		Str("transfer", cfg.Transfer.Backend).
		Int("adapters", len(registry.Keys())).
		Bool("archive", deps.Archiver != nil).
		Msg("Pipeline assembled")

	ok = true
	return a, nil
}

func (a *App) openLedger(ctx context.Context, cfg *config.Config) error {
	switch cfg.LedgerBackend {
	case config.LedgerPostgres:
		pool, err := postgres.ConnectDB(ctx, postgres.ConnConfig{
			Host:     cfg.DB.Host,
			Port:     cfg.DB.Port,
			User:     cfg.DB.User,
			Password: cfg.DB.Password,
			Database: cfg.DB.Name,
			SSLMode:  cfg.DB.SSLMode,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, closerFunc(pool.Close))
		a.Ledger = postgres.NewRequestLedger(pool)
	case config.LedgerBigQuery:
		l, err := infraBQ.NewRequestLedger(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, l)
		a.Ledger = l
	case config.LedgerMemory:
		a.Memory = inmemory.NewStore()
		a.Ledger = a.Memory
	default:
		return fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
	return nil
}

// Close releases ledger connections and transfer sessions.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// NewCipher builds the credential cipher from DECRYPTION_KEY.
func NewCipher(cfg *config.Config) (*credentials.Cipher, error) {
	key, err := credentials.ParseKey(cfg.DecryptionKey)
	if err != nil {
		return nil, fmt.Errorf("DECRYPTION_KEY: %w", err)
	}
	return credentials.NewCipher(key)
}

// OpenStager builds the stager for the configured transfer backend.
func OpenStager(ctx context.Context, cfg *config.Config) (*transfer.Stager, error) {
	var store transfer.Store
	switch cfg.Transfer.Backend {
	case config.TransferGCS:
		s, err := transfer.NewGCSStore(ctx, cfg.Transfer.GCSBucket)
		if err != nil {
			return nil, err
		}
		store = s
	case config.TransferSFTP:
		s, err := transfer.NewSFTPStore(transfer.SFTPConfig{
			Host:                  cfg.Transfer.SFTP.Host,
			Port:                  cfg.Transfer.SFTP.Port,
			User:                  cfg.Transfer.SFTP.User,
			Password:              cfg.Transfer.SFTP.Password,
			KnownHostsFile:        cfg.Transfer.SFTP.KnownHostsFile,
			InsecureIgnoreHostKey: cfg.Transfer.SFTP.InsecureIgnoreHostKey,
		})
		if err != nil {
			return nil, err
		}
		store = s
	case config.TransferLocal:
		s, err := transfer.NewLocalStore(cfg.Transfer.LocalRoot)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown transfer backend %q", cfg.Transfer.Backend)
	}
	return transfer.NewStager(store), nil
}

// NewRegistry registers a drop-box adapter, for both account kinds, for
// every bank code directory under DROPBOX_DIR. Portal adapters are linked in
// by the deployment and are not part of this module.
func NewRegistry(cfg *config.Config) (*banks.Registry, error) {
	if cfg.DropboxDir == "" {
		return banks.NewRegistry(), nil
	}

	codes, err := dropboxBankCodes(cfg.DropboxDir)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("STATEMENT_TIMEZONE: %w", err)
	}

	var entries []banks.Entry
	for _, code := range codes {
		adapter := dropbox.New(cfg.DropboxDir, code, loc)
		for _, kind := range []domain.AccountKind{domain.AccountPersonal, domain.AccountCorporate} {
			entries = append(entries, banks.Entry{
				Key:     banks.Key{BankCode: code, AccountKind: kind},
				Adapter: adapter,
			})
		}
	}
	return banks.NewRegistry(entries...), nil
}

func dropboxBankCodes(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("DROPBOX_DIR: %w", err)
	}
	var codes []string
	for _, e := range entries {
		if e.IsDir() {
			codes = append(codes, e.Name())
		}
	}
	sort.Strings(codes)
	return codes, nil
}

// NewNormalizer builds a normalizer reading timestamps in STATEMENT_TIMEZONE.
func NewNormalizer(cfg *config.Config) (*statement.Normalizer, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("STATEMENT_TIMEZONE: %w", err)
	}
	return &statement.Normalizer{Location: loc}, nil
}
