package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPConfig holds connection settings for an SFTP destination.
type SFTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string

	// KnownHostsFile pins the server host key. When empty the host key is
	// only accepted if InsecureIgnoreHostKey is set.
	KnownHostsFile        string
	InsecureIgnoreHostKey bool

	DialTimeout time.Duration
}

// SFTPStore stages artifacts on an SFTP server. The connection is opened on
// first use and dropped after any failed operation so the next call
// reconnects.
type SFTPStore struct {
	cfg SFTPConfig

	mu     sync.Mutex
	ssh    *ssh.Client
	client *sftp.Client
}

// NewSFTPStore validates cfg. No connection is made until the first call.
func NewSFTPStore(cfg SFTPConfig) (*SFTPStore, error) {
	if cfg.Host == "" || cfg.User == "" {
		return nil, errors.New("NewSFTPStore: host and user are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.KnownHostsFile == "" && !cfg.InsecureIgnoreHostKey {
		return nil, errors.New("NewSFTPStore: known hosts file required")
	}
	return &SFTPStore{cfg: cfg}, nil
}

func (s *SFTPStore) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.cfg.KnownHostsFile != "" {
		return knownhosts.New(s.cfg.KnownHostsFile)
	}
	return ssh.InsecureIgnoreHostKey(), nil
}

func (s *SFTPStore) connect(ctx context.Context) (*sftp.Client, error) {
	if s.client != nil {
		return s.client, nil
	}

	cb, err := s.hostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(s.cfg.Password)},
		HostKeyCallback: cb,
		Timeout:         s.cfg.DialTimeout,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("start sftp subsystem: %w", err)
	}

	s.ssh = sshClient
	s.client = client
	return client, nil
}

func (s *SFTPStore) reset() {
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	if s.ssh != nil {
		s.ssh.Close()
		s.ssh = nil
	}
}

// EnsureDir implements Store.
func (s *SFTPStore) EnsureDir(ctx context.Context, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := s.connect(ctx)
	if err != nil {
		return err
	}

	if err := ensureRemoteDir(client, dir); err != nil {
		s.reset()
		return err
	}
	return nil
}

func ensureRemoteDir(client *sftp.Client, dir string) error {
	info, err := client.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", dir, err)
	}

	if mkErr := client.Mkdir(dir); mkErr != nil {
		// Someone else may have created it in between.
		if info, err := client.Stat(dir); err == nil && info.IsDir() {
			return nil
		}
		return fmt.Errorf("mkdir %s: %w", dir, mkErr)
	}
	return nil
}

// Put implements Store. The file is uploaded under a temporary name in the
// destination directory and renamed once fully written.
func (s *SFTPStore) Put(ctx context.Context, localPath, remotePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", localPath, err)
	}
	defer src.Close()

	client, err := s.connect(ctx)
	if err != nil {
		return err
	}

	tmp := path.Join(path.Dir(remotePath), "."+path.Base(remotePath)+".part")
	if err := upload(ctx, client, src, tmp); err != nil {
		_ = client.Remove(tmp)
		s.reset()
		return err
	}

	if err := client.PosixRename(tmp, remotePath); err != nil {
		_ = client.Remove(tmp)
		s.reset()
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func upload(ctx context.Context, client *sftp.Client, src io.Reader, remote string) error {
	dst, err := client.Create(remote)
	if err != nil {
		return fmt.Errorf("create %s: %w", remote, err)
	}
	if _, err := dst.ReadFrom(src); err != nil {
		dst.Close()
		return fmt.Errorf("write %s: %w", remote, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close %s: %w", remote, err)
	}
	return ctx.Err()
}

// Close implements Store.
func (s *SFTPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

var _ Store = (*SFTPStore)(nil)
