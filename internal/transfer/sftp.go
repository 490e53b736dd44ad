package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/sftp"
	gitignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/fleetmirror/fleetmirror/internal/utils"
)

// SFTPClient mirrors trees over a plain SFTP session, for remotes where rsync
// is unavailable. The ssh connection is dialed lazily, cached across calls,
// and dropped after any transport error so the next call redials.
type SFTPClient struct {
	cfg Config

	mu   sync.Mutex
	ssh  *ssh.Client
	sftp *sftp.Client
}

func NewSFTPClient(cfg Config) *SFTPClient {
	return &SFTPClient{cfg: cfg}
}

func (s *SFTPClient) Mirror(ctx context.Context, remote, local string, excludes []string) error {
	client, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(local); err != nil {
		return fmt.Errorf("create local dir %s: %w", local, err)
	}

	matcher := gitignore.CompileIgnoreLines(excludes...)
	seen := mapset.NewSet[string]()

	walker := client.Walk(remote)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := walker.Err(); err != nil {
			s.invalidate()
			return fmt.Errorf("walk %s: %w", walker.Path(), err)
		}

		rel := relPath(remote, walker.Path())
		if rel == "" {
			continue
		}
		info := walker.Stat()
		if matcher.MatchesPath(rel) {
			if info.IsDir() {
				walker.SkipDir()
			}
			continue
		}

		localPath := filepath.Join(local, filepath.FromSlash(rel))
		if info.IsDir() {
			if err := os.MkdirAll(localPath, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", localPath, err)
			}
			seen.Add(rel)
			continue
		}

		seen.Add(rel)
		if upToDate(localPath, info) {
			continue
		}
		if err := s.download(client, walker.Path(), localPath, info); err != nil {
			s.invalidate()
			return err
		}
	}

	return pruneLocal(local, seen, matcher)
}

func (s *SFTPClient) Exists(ctx context.Context, remote string) (bool, error) {
	client, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	_, err = client.Stat(remote)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
		return false, nil
	}
	s.invalidate()
	return false, fmt.Errorf("stat %s: %w", remote, err)
}

func (s *SFTPClient) Close() error {
	s.invalidate()
	return nil
}

// conn returns the cached sftp session, dialing on first use.
func (s *SFTPClient) conn(ctx context.Context) (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sftp != nil {
		return s.sftp, nil
	}

	sshConf, err := s.sshConfig()
	if err != nil {
		return nil, err
	}

	port := s.cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: sshConf.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	conn, chans, reqs, err := ssh.NewClientConn(netConn, addr, sshConf)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(conn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("sftp subsystem: %w", err)
	}

	slog.Debug("sftp connected", "addr", addr, "user", s.cfg.User)
	s.ssh, s.sftp = sshClient, sftpClient
	return sftpClient, nil
}

// invalidate drops the cached connection so the next call redials.
func (s *SFTPClient) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sftp != nil {
		s.sftp.Close()
		s.sftp = nil
	}
	if s.ssh != nil {
		s.ssh.Close()
		s.ssh = nil
	}
}

func (s *SFTPClient) sshConfig() (*ssh.ClientConfig, error) {
	conf := &ssh.ClientConfig{
		User:    s.cfg.User,
		Timeout: s.cfg.Timeout(),
	}

	if s.cfg.StrictHostKey {
		khFile := s.cfg.KnownHostsFile
		if khFile == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("resolve known_hosts: %w", err)
			}
			khFile = filepath.Join(home, ".ssh", "known_hosts")
		}
		callback, err := knownhosts.New(khFile)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %s: %w", khFile, err)
		}
		conf.HostKeyCallback = callback
	} else {
		conf.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	if s.cfg.KeyFile != "" {
		keyData, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		conf.Auth = append(conf.Auth, ssh.PublicKeys(signer))
	}
	if s.cfg.Password != "" {
		conf.Auth = append(conf.Auth, ssh.Password(s.cfg.Password))
	}
	if len(conf.Auth) == 0 {
		return nil, errors.New("sftp transport needs key_file or password")
	}
	return conf, nil
}

func (s *SFTPClient) download(client *sftp.Client, remotePath, localPath string, info os.FileInfo) error {
	src, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", remotePath, err)
	}
	defer src.Close()

	if err := utils.EnsureParent(localPath); err != nil {
		return err
	}
	dst, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}

	if _, err := src.WriteTo(dst); err != nil {
		dst.Close()
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close %s: %w", localPath, err)
	}
	return os.Chtimes(localPath, info.ModTime(), info.ModTime())
}

// upToDate reports whether the local copy already matches the remote size and
// is at least as new, which skips the bulk of transfers on steady trees.
func upToDate(localPath string, remote os.FileInfo) bool {
	st, err := os.Stat(localPath)
	if err != nil || st.IsDir() {
		return false
	}
	return st.Size() == remote.Size() && !st.ModTime().Before(remote.ModTime())
}

// pruneLocal removes local entries that no longer exist remotely, matching
// rsync --delete semantics. Excluded paths are left alone.
func pruneLocal(local string, seen mapset.Set[string], matcher *gitignore.GitIgnore) error {
	var doomed []string
	err := filepath.WalkDir(local, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if p == local {
			return nil
		}
		rel, err := filepath.Rel(local, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if matcher.MatchesPath(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !seen.Contains(rel) {
			doomed = append(doomed, p)
			if d.IsDir() {
				return fs.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("prune %s: %w", local, err)
	}

	for _, p := range doomed {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("prune %s: %w", p, err)
		}
	}
	return nil
}

// relPath strips the mirror root from a remote walk path. Remote paths are
// always slash-separated.
func relPath(root, p string) string {
	rel := strings.TrimPrefix(p, strings.TrimSuffix(root, "/"))
	return strings.TrimPrefix(rel, "/")
}
