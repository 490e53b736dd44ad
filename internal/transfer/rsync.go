package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fleetmirror/fleetmirror/internal/utils"
)

// RsyncClient shells out to rsync over ssh. rsync owns the byte-level diffing
// and deletion; this client only assembles arguments and interprets exits.
type RsyncClient struct {
	cfg   Config
	rsync string
	ssh   string
}

func NewRsyncClient(cfg Config) (*RsyncClient, error) {
	bin := cfg.RsyncPath
	if bin == "" {
		bin = "rsync"
	}
	rsyncPath, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("rsync binary not found: %w", err)
	}
	sshPath, err := exec.LookPath("ssh")
	if err != nil {
		return nil, fmt.Errorf("ssh binary not found: %w", err)
	}
	return &RsyncClient{cfg: cfg, rsync: rsyncPath, ssh: sshPath}, nil
}

func (r *RsyncClient) Mirror(ctx context.Context, remote, local string, excludes []string) error {
	if err := utils.EnsureDir(local); err != nil {
		return fmt.Errorf("create local dir %s: %w", local, err)
	}

	args := r.mirrorArgs(remote, local, excludes)
	slog.Debug("rsync mirror", "remote", remote, "local", local)

	cmd := exec.CommandContext(ctx, r.rsync, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := firstLine(stderr.String()); msg != "" {
			return fmt.Errorf("rsync %s: %w: %s", remote, err, msg)
		}
		return fmt.Errorf("rsync %s: %w", remote, err)
	}
	return nil
}

// Exists probes the remote path by running `test -e` over ssh. Exit 1 means
// the path is absent; anything else is a transport failure.
func (r *RsyncClient) Exists(ctx context.Context, remote string) (bool, error) {
	args := append(r.sshOptions(), r.remoteHost(), "test", "-e", shellQuote(remote))
	cmd := exec.CommandContext(ctx, r.ssh, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	if msg := firstLine(stderr.String()); msg != "" {
		return false, fmt.Errorf("ssh probe %s: %w: %s", remote, err, msg)
	}
	return false, fmt.Errorf("ssh probe %s: %w", remote, err)
}

// mirrorArgs assembles the full rsync argument list. The trailing slash on the
// remote spec makes rsync copy the directory contents, so local becomes an
// exact replica of remote.
func (r *RsyncClient) mirrorArgs(remote, local string, excludes []string) []string {
	args := []string{
		"-az",
		"--delete",
		fmt.Sprintf("--timeout=%d", int(r.cfg.Timeout().Seconds())),
	}
	if r.cfg.BandwidthKBps > 0 {
		args = append(args, fmt.Sprintf("--bwlimit=%d", r.cfg.BandwidthKBps))
	}
	for _, e := range excludes {
		args = append(args, "--exclude="+e)
	}
	args = append(args,
		"-e", strings.Join(append([]string{r.ssh}, r.sshOptions()...), " "),
		r.remoteHost()+":"+shellQuote(strings.TrimSuffix(remote, "/")+"/"),
		local,
	)
	return args
}

// sshOptions are shared between the rsync transport command and the probe.
func (r *RsyncClient) sshOptions() []string {
	opts := []string{
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(r.cfg.Timeout().Seconds())),
	}
	if r.cfg.StrictHostKey {
		if r.cfg.KnownHostsFile != "" {
			opts = append(opts, "-o", "UserKnownHostsFile="+r.cfg.KnownHostsFile)
		}
	} else {
		opts = append(opts,
			"-o", "StrictHostKeyChecking=no",
			"-o", "UserKnownHostsFile=/dev/null")
	}
	if r.cfg.Port != 0 && r.cfg.Port != 22 {
		opts = append(opts, "-p", strconv.Itoa(r.cfg.Port))
	}
	if r.cfg.KeyFile != "" {
		opts = append(opts, "-i", r.cfg.KeyFile)
	}
	return opts
}

func (r *RsyncClient) remoteHost() string {
	if r.cfg.User != "" {
		return r.cfg.User + "@" + r.cfg.Host
	}
	return r.cfg.Host
}

// shellQuote wraps s for the remote shell, which sees the path twice: once
// via ssh and once via rsync's server invocation.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
