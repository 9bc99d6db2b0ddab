// Package transfer stages local artifacts into a remote store under
// POSIX-style logical paths.
package transfer

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/dvloznov/statement-relay/internal/logger"
)

// Store is a remote destination for artifacts.
type Store interface {
	// EnsureDir makes sure the single directory dir exists. Its parent is
	// guaranteed to exist already. Calling it for an existing directory is
	// not an error.
	EnsureDir(ctx context.Context, dir string) error

	// Put copies the local file to remotePath. Either the whole file
	// becomes visible at remotePath or nothing does.
	Put(ctx context.Context, localPath, remotePath string) error

	// Close releases connections held by the store.
	Close() error
}

// TransferError reports a failed staging step. A failed transfer means the
// remote artifact must be treated as absent.
type TransferError struct {
	Op         string
	RemotePath string
	Err        error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.RemotePath, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Kind implements the error classification used by the pipeline.
func (e *TransferError) Kind() string { return "TransferError" }

// Stager ensures remote directories exist and then uploads artifacts.
type Stager struct {
	store Store
}

// NewStager creates a Stager writing to store.
func NewStager(store Store) *Stager {
	return &Stager{store: store}
}

// Stage uploads localPath to remotePath, creating every missing
// intermediate directory first. It does not retry.
func (s *Stager) Stage(ctx context.Context, localPath, remotePath string) error {
	log := logger.FromContext(ctx)

	remotePath, err := cleanRemote(remotePath)
	if err != nil {
		return &TransferError{Op: "validate", RemotePath: remotePath, Err: err}
	}

	if err := s.EnsureDirs(ctx, path.Dir(remotePath)); err != nil {
		return err
	}

	if err := s.store.Put(ctx, localPath, remotePath); err != nil {
		return &TransferError{Op: "put", RemotePath: remotePath, Err: err}
	}

	log.Info().
		Str("local_path", localPath).
		Str("remote_path", remotePath).
		Msg("Artifact staged")
	return nil
}

// EnsureDirs walks dir from the root down and ensures each component exists.
func (s *Stager) EnsureDirs(ctx context.Context, dir string) error {
	dir, err := cleanRemote(dir)
	if err != nil {
		return &TransferError{Op: "validate", RemotePath: dir, Err: err}
	}

	current := ""
	for _, part := range strings.Split(strings.TrimPrefix(dir, "/"), "/") {
		if part == "" {
			continue
		}
		current += "/" + part
		if err := s.store.EnsureDir(ctx, current); err != nil {
			return &TransferError{Op: "mkdir", RemotePath: current, Err: err}
		}
	}
	return nil
}

// Close closes the underlying store.
func (s *Stager) Close() error {
	return s.store.Close()
}

func cleanRemote(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty remote path")
	}
	if strings.Contains(p, "\\") {
		return p, fmt.Errorf("remote path must use '/' separators")
	}
	cleaned := path.Clean("/" + p)
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return p, fmt.Errorf("remote path must not contain '..'")
		}
	}
	return cleaned, nil
}
