package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore writes artifacts beneath a root directory on the local or a
// mounted filesystem.
type LocalStore struct {
	root string
}

// NewLocalStore creates a store rooted at root, which must already exist.
func NewLocalStore(root string) (*LocalStore, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("NewLocalStore: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("NewLocalStore: %s is not a directory", root)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) resolve(remote string) string {
	return filepath.Join(s.root, filepath.FromSlash(remote))
}

// EnsureDir implements Store.
func (s *LocalStore) EnsureDir(ctx context.Context, dir string) error {
	p := s.resolve(dir)
	err := os.Mkdir(p, 0o755)
	if err == nil {
		return nil
	}
	if info, statErr := os.Stat(p); statErr == nil && info.IsDir() {
		return nil
	}
	return err
}

// Put implements Store. The file is written under a temporary name and
// renamed into place once complete.
func (s *LocalStore) Put(ctx context.Context, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %q: %w", localPath, err)
	}
	defer src.Close()

	dst := s.resolve(remotePath)
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := ctx.Err(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Close implements Store.
func (s *LocalStore) Close() error { return nil }

var _ Store = (*LocalStore)(nil)
