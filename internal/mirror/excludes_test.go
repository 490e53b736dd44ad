package mirror

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildExcludes_StateFilesBecomeBasenames(t *testing.T) {
	patterns, err := BuildExcludes(
		[]string{"/var/lib/fleetmirror/fleetmirror.pid", "/var/log/fleetmirror/activity.log"},
		nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"fleetmirror.pid", "activity.log"}, patterns)
}

func TestBuildExcludes_DedupesPreservingOrder(t *testing.T) {
	patterns, err := BuildExcludes(
		[]string{"/state/app.pid"},
		[]string{"*.tmp", "cache/", "*.tmp", "app.pid"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"app.pid", "*.tmp", "cache/"}, patterns)
}

func TestBuildExcludes_InvalidPatternRejected(t *testing.T) {
	_, err := BuildExcludes(nil, []string{"ok", "[broken"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[broken")
}

func TestBuildExcludes_IgnoreFile(t *testing.T) {
	t.Run("patterns loaded, comments and blanks skipped", func(t *testing.T) {
		ignoreFile := filepath.Join(t.TempDir(), "mirrorignore")
		content := "# transient media\n*.mkv\n\n  *.iso  \n# done\n"
		require.NoError(t, os.WriteFile(ignoreFile, []byte(content), 0o644))

		patterns, err := BuildExcludes(nil, []string{"*.tmp"}, ignoreFile)
		require.NoError(t, err)
		assert.Equal(t, []string{"*.tmp", "*.mkv", "*.iso"}, patterns)
	})

	t.Run("missing file is not an error", func(t *testing.T) {
		patterns, err := BuildExcludes(nil, []string{"*.tmp"}, filepath.Join(t.TempDir(), "nope"))
		require.NoError(t, err)
		assert.Equal(t, []string{"*.tmp"}, patterns)
	})
}

func TestDefaultExcludes_AreValidPatterns(t *testing.T) {
	patterns, err := BuildExcludes(nil, DefaultExcludes, "")
	require.NoError(t, err)
	assert.Len(t, patterns, len(DefaultExcludes))
}
