package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/fleetmirror/fleetmirror/internal/utils"
)

var (
	ErrAlreadyRunning = errors.New("daemon already running")
	ErrNotRunning     = errors.New("daemon not running")
)

// PIDFile is the single-instance guard. The PID file records which process
// owns the mirror tree; a flock on a sibling lock file backs it up against
// two daemons racing through the staleness check at once.
type PIDFile struct {
	path string
	lock *flock.Flock
}

func NewPIDFile(path string) *PIDFile {
	return &PIDFile{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

func (p *PIDFile) Path() string {
	return p.path
}

// Claim makes this process the daemon. A live PID already in the file means
// another instance owns the tree. A dead or unreadable one is leftover from
// a crash and is overwritten. The flock covers only the check-then-write;
// whether a daemon owns the tree is decided by the liveness of the recorded
// PID, so the lock is never held while the daemon runs.
func (p *PIDFile) Claim() error {
	if err := utils.EnsureParent(p.path); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	locked, err := p.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock pid file: %w", err)
	}
	if !locked {
		// Another process is mid-claim right now.
		return ErrAlreadyRunning
	}
	defer func() { _ = p.lock.Unlock() }()

	if pid, ok := p.Read(); ok && pid != int32(os.Getpid()) {
		if alive, _ := process.PidExists(pid); alive {
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
	}

	pid := strconv.Itoa(os.Getpid())
	if err := utils.WriteFileAtomic(p.path, []byte(pid), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Remove deletes the PID file and the claim lock file. Safe to call without
// a prior Claim; stale file cleanup goes through here too.
func (p *PIDFile) Remove() error {
	_ = os.Remove(p.lock.Path())
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// Read returns the recorded PID. ok is false when the file is missing or
// does not hold a positive integer.
func (p *PIDFile) Read() (int32, bool) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return int32(pid), true
}

// Alive returns the recorded PID when it refers to a live process.
func (p *PIDFile) Alive() (int32, bool) {
	pid, ok := p.Read()
	if !ok {
		return 0, false
	}
	exists, err := process.PidExists(pid)
	if err != nil || !exists {
		return 0, false
	}
	return pid, true
}
