// Package config loads the process-wide settings once at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Ledger backends.
const (
	LedgerPostgres = "postgres"
	LedgerBigQuery = "bigquery"
	LedgerMemory   = "memory"
)

// Transfer backends.
const (
	TransferGCS   = "gcs"
	TransferSFTP  = "sftp"
	TransferLocal = "local"
)

// DBConfig holds the postgres ledger connection settings.
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// BigQueryConfig holds the BigQuery ledger and archive settings.
type BigQueryConfig struct {
	Project string
	Dataset string

	// ArchiveTransactions streams normalized records to BigQuery after
	// normalization.
	ArchiveTransactions bool
}

// SFTPConfig holds the SFTP transfer endpoint settings.
type SFTPConfig struct {
	Host                  string
	Port                  int
	User                  string
	Password              string
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
}

// TransferConfig selects and configures the artifact transfer backend.
type TransferConfig struct {
	Backend       string
	RemoteBaseDir string

	GCSBucket string
	SFTP      SFTPConfig

	// LocalRoot is the destination root for the local backend.
	LocalRoot string
}

// Config is immutable after Load and passed explicitly.
type Config struct {
	DecryptionKey string

	LedgerBackend string
	DB            DBConfig
	BigQuery      BigQueryConfig

	Transfer TransferConfig

	ScratchRoot  string
	KeepScratch  bool
	DropboxDir   string
	PollInterval time.Duration

	// Timezone is used to interpret statement timestamps.
	Timezone string

	LogLevel string
	LogFile  string
	OpsAddr  string
}

// Load reads a .env file if present and then the environment. It reports
// malformed values; missing ones are left to Validate.
func Load() (*Config, error) {
	// A missing .env is normal in deployed environments.
	_ = godotenv.Load()

	pollInterval, err := getEnvDuration("POLL_INTERVAL", time.Second)
	if err != nil {
		return nil, err
	}
	sftpPort, err := getEnvInt("SFTP_PORT", 22)
	if err != nil {
		return nil, err
	}
	archive, err := getEnvBool("BQ_ARCHIVE_TRANSACTIONS", false)
	if err != nil {
		return nil, err
	}
	keepScratch, err := getEnvBool("KEEP_SCRATCH", false)
	if err != nil {
		return nil, err
	}
	insecureHostKey, err := getEnvBool("SFTP_INSECURE_IGNORE_HOST_KEY", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DecryptionKey: os.Getenv("DECRYPTION_KEY"),
		LedgerBackend: strings.ToLower(getEnv("LEDGER_BACKEND", LedgerPostgres)),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "relay"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     getEnv("DB_NAME", "statement_relay"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		BigQuery: BigQueryConfig{
			Project:             os.Getenv("BQ_PROJECT"),
			Dataset:             getEnv("BQ_DATASET", "statements"),
			ArchiveTransactions: archive,
		},
		Transfer: TransferConfig{
			Backend:       strings.ToLower(getEnv("TRANSFER_BACKEND", TransferSFTP)),
			RemoteBaseDir: getEnv("REMOTE_BASE_DIR", "/statements"),
			GCSBucket:     os.Getenv("GCS_BUCKET"),
			SFTP: SFTPConfig{
				Host:                  os.Getenv("SFTP_HOST"),
				Port:                  sftpPort,
				User:                  os.Getenv("SFTP_USER"),
				Password:              os.Getenv("SFTP_PASSWORD"),
				KnownHostsFile:        os.Getenv("SFTP_KNOWN_HOSTS"),
				InsecureIgnoreHostKey: insecureHostKey,
			},
			LocalRoot: os.Getenv("LOCAL_TRANSFER_ROOT"),
		},
		ScratchRoot:  getEnv("SCRATCH_ROOT", os.TempDir()),
		KeepScratch:  keepScratch,
		DropboxDir:   os.Getenv("DROPBOX_DIR"),
		PollInterval: pollInterval,
		Timezone:     getEnv("STATEMENT_TIMEZONE", "Asia/Seoul"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFile:      os.Getenv("LOG_FILE"),
		OpsAddr:      os.Getenv("OPS_ADDR"),
	}
	return cfg, nil
}

// Validate checks that every setting the selected backends need is present.
func (c *Config) Validate() error {
	var errs []error

	if c.DecryptionKey == "" {
		errs = append(errs, errors.New("DECRYPTION_KEY is required"))
	}

	switch c.LedgerBackend {
	case LedgerPostgres:
		if c.DB.Host == "" || c.DB.Name == "" {
			errs = append(errs, errors.New("DB_HOST and DB_NAME are required for the postgres ledger"))
		}
	case LedgerBigQuery:
		if c.BigQuery.Project == "" {
			errs = append(errs, errors.New("BQ_PROJECT is required for the bigquery ledger"))
		}
	case LedgerMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend))
	}

	if c.BigQuery.ArchiveTransactions && c.BigQuery.Project == "" {
		errs = append(errs, errors.New("BQ_PROJECT is required when BQ_ARCHIVE_TRANSACTIONS is set"))
	}

	switch c.Transfer.Backend {
	case TransferGCS:
		if c.Transfer.GCSBucket == "" {
			errs = append(errs, errors.New("GCS_BUCKET is required for the gcs transfer backend"))
		}
	case TransferSFTP:
		if c.Transfer.SFTP.Host == "" || c.Transfer.SFTP.User == "" {
			errs = append(errs, errors.New("SFTP_HOST and SFTP_USER are required for the sftp transfer backend"))
		}
		if c.Transfer.SFTP.KnownHostsFile == "" && !c.Transfer.SFTP.InsecureIgnoreHostKey {
			errs = append(errs, errors.New("SFTP_KNOWN_HOSTS is required unless SFTP_INSECURE_IGNORE_HOST_KEY is set"))
		}
	case TransferLocal:
		if c.Transfer.LocalRoot == "" {
			errs = append(errs, errors.New("LOCAL_TRANSFER_ROOT is required for the local transfer backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TRANSFER_BACKEND %q", c.Transfer.Backend))
	}

	if c.ScratchRoot == "" {
		errs = append(errs, errors.New("SCRATCH_ROOT is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("STATEMENT_TIMEZONE: %w", err))
	}

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
