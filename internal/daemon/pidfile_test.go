package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPIDPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "fleetmirror.pid")
}

func TestPIDFile_ClaimWritesOwnPID(t *testing.T) {
	p := NewPIDFile(testPIDPath(t))
	require.NoError(t, p.Claim())
	defer p.Remove()

	pid, ok := p.Read()
	require.True(t, ok)
	assert.Equal(t, int32(os.Getpid()), pid)

	alive, ok := p.Alive()
	require.True(t, ok)
	assert.Equal(t, pid, alive)
}

func TestPIDFile_RemoveDeletesFile(t *testing.T) {
	p := NewPIDFile(testPIDPath(t))
	require.NoError(t, p.Claim())
	require.NoError(t, p.Remove())

	_, ok := p.Read()
	assert.False(t, ok)
	assert.NoFileExists(t, p.Path())
}

func TestPIDFile_ClaimRefusesLiveProcess(t *testing.T) {
	path := testPIDPath(t)
	// The test runner's parent is alive and is not us.
	other := strconv.Itoa(os.Getppid())
	require.NoError(t, os.WriteFile(path, []byte(other), 0o644))

	p := NewPIDFile(path)
	err := p.Claim()
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.ErrorContains(t, err, "pid "+other)

	// The file is untouched on refusal.
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, other, string(data))
}

func TestPIDFile_ClaimHealsStalePID(t *testing.T) {
	path := testPIDPath(t)
	require.NoError(t, os.WriteFile(path, []byte("99999999"), 0o644))

	p := NewPIDFile(path)
	require.NoError(t, p.Claim())
	defer p.Remove()

	pid, ok := p.Read()
	require.True(t, ok)
	assert.Equal(t, int32(os.Getpid()), pid)
}

func TestPIDFile_ClaimHealsGarbageFile(t *testing.T) {
	path := testPIDPath(t)
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))

	p := NewPIDFile(path)
	require.NoError(t, p.Claim())
	defer p.Remove()

	pid, ok := p.Read()
	require.True(t, ok)
	assert.Equal(t, int32(os.Getpid()), pid)
}

func TestPIDFile_LockReleasedAfterClaim(t *testing.T) {
	path := testPIDPath(t)

	p := NewPIDFile(path)
	require.NoError(t, p.Claim())
	defer p.Remove()

	// The flock guards only the claim itself; it must be free afterwards.
	probe := flock.New(path + ".lock")
	locked, err := probe.TryLock()
	require.NoError(t, err)
	assert.True(t, locked)
	require.NoError(t, probe.Unlock())
}

func TestPIDFile_ReadMissingFile(t *testing.T) {
	p := NewPIDFile(testPIDPath(t))
	_, ok := p.Read()
	assert.False(t, ok)
	_, ok = p.Alive()
	assert.False(t, ok)
}

func TestPIDFile_RemoveWithoutClaim(t *testing.T) {
	p := NewPIDFile(testPIDPath(t))
	assert.NoError(t, p.Remove())
}

func TestPIDFile_ReadTrimsWhitespace(t *testing.T) {
	path := testPIDPath(t)
	require.NoError(t, os.WriteFile(path, []byte(" "+strconv.Itoa(os.Getpid())+"\n"), 0o644))

	pid, ok := NewPIDFile(path).Read()
	require.True(t, ok)
	assert.Equal(t, int32(os.Getpid()), pid)
}
