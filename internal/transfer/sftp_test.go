package transfer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelPath(t *testing.T) {
	assert.Equal(t, "", relPath("/srv/app/logs", "/srv/app/logs"))
	assert.Equal(t, "a.log", relPath("/srv/app/logs", "/srv/app/logs/a.log"))
	assert.Equal(t, "sub/b.log", relPath("/srv/app/logs", "/srv/app/logs/sub/b.log"))
	assert.Equal(t, "a.log", relPath("/srv/app/logs/", "/srv/app/logs/a.log"))
}

func TestUpToDate(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "f.log")
	require.NoError(t, os.WriteFile(local, []byte("12345"), 0o644))

	now := time.Now()
	require.NoError(t, os.Chtimes(local, now, now))

	t.Run("same size and newer mtime", func(t *testing.T) {
		assert.True(t, upToDate(local, fakeFileInfo{size: 5, modTime: now.Add(-time.Hour)}))
	})
	t.Run("size mismatch", func(t *testing.T) {
		assert.False(t, upToDate(local, fakeFileInfo{size: 9, modTime: now.Add(-time.Hour)}))
	})
	t.Run("remote newer", func(t *testing.T) {
		assert.False(t, upToDate(local, fakeFileInfo{size: 5, modTime: now.Add(time.Hour)}))
	})
	t.Run("missing local", func(t *testing.T) {
		assert.False(t, upToDate(filepath.Join(dir, "missing"), fakeFileInfo{size: 5, modTime: now}))
	})
}

func TestPruneLocal(t *testing.T) {
	local := t.TempDir()
	mk := func(rel string) {
		p := filepath.Join(local, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	mk("keep.log")
	mk("gone.log")
	mk("sub/keep.log")
	mk("deaddir/a.log")
	mk("deaddir/b.log")
	mk("cache/blob")

	seen := mapset.NewSet("keep.log", "sub", "sub/keep.log")
	matcher := gitignore.CompileIgnoreLines("cache/")

	require.NoError(t, pruneLocal(local, seen, matcher))

	assert.FileExists(t, filepath.Join(local, "keep.log"))
	assert.FileExists(t, filepath.Join(local, "sub", "keep.log"))
	assert.NoFileExists(t, filepath.Join(local, "gone.log"))
	assert.NoDirExists(t, filepath.Join(local, "deaddir"))
	// Excluded paths are not mirror-managed and must survive pruning.
	assert.FileExists(t, filepath.Join(local, "cache", "blob"))
}

func TestSFTPSSHConfig(t *testing.T) {
	t.Run("no auth configured", func(t *testing.T) {
		c := NewSFTPClient(Config{Host: "h", User: "u"})
		_, err := c.sshConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "key_file or password")
	})

	t.Run("password auth", func(t *testing.T) {
		c := NewSFTPClient(Config{Host: "h", User: "u", Password: "hunter2"})
		conf, err := c.sshConfig()
		require.NoError(t, err)
		assert.Equal(t, "u", conf.User)
		assert.Len(t, conf.Auth, 1)
		assert.Equal(t, DefaultConnectTimeout, conf.Timeout)
	})

	t.Run("missing key file", func(t *testing.T) {
		c := NewSFTPClient(Config{Host: "h", User: "u", KeyFile: filepath.Join(t.TempDir(), "nope")})
		_, err := c.sshConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read key file")
	})

	t.Run("strict host key needs readable known_hosts", func(t *testing.T) {
		c := NewSFTPClient(Config{
			Host: "h", User: "u", Password: "x",
			StrictHostKey:  true,
			KnownHostsFile: filepath.Join(t.TempDir(), "known_hosts"),
		})
		_, err := c.sshConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "known_hosts")
	})
}

type fakeFileInfo struct {
	size    int64
	modTime time.Time
}

func (f fakeFileInfo) Name() string       { return "f" }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() os.FileMode  { return 0o644 }
func (f fakeFileInfo) ModTime() time.Time { return f.modTime }
func (f fakeFileInfo) IsDir() bool        { return false }
func (f fakeFileInfo) Sys() any           { return nil }
