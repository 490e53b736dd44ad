package mirror

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
)

// DefaultExcludes covers transient media and cache entries that keep mutating
// between passes and are not worth mirroring.
var DefaultExcludes = []string{
	"*.tmp",
	"*.part",
	"*.partial",
	"*.swp",
	".cache/",
	"cache/",
	"media_cache/",
	"thumbs/",
	".DS_Store",
	"Thumbs.db",
}

// BuildExcludes assembles the exclusion patterns applied to every mirror call:
// the daemon's own state files (so a mirror root overlapping the state
// directory cannot feed the daemon its own output), the configured patterns,
// and the optional user ignore file. Order is preserved, duplicates dropped.
func BuildExcludes(stateFiles []string, configured []string, ignoreFile string) ([]string, error) {
	seen := mapset.NewSet[string]()
	out := make([]string, 0, len(stateFiles)+len(configured))

	add := func(p string) error {
		p = strings.TrimSpace(p)
		if p == "" || !seen.Add(p) {
			return nil
		}
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern %q", p)
		}
		out = append(out, p)
		return nil
	}

	for _, f := range stateFiles {
		if f == "" {
			continue
		}
		if err := add(filepath.Base(f)); err != nil {
			return nil, err
		}
	}
	for _, p := range configured {
		if err := add(p); err != nil {
			return nil, err
		}
	}

	if ignoreFile != "" {
		lines, err := readIgnoreLines(ignoreFile)
		if err != nil {
			return nil, err
		}
		for _, p := range lines {
			if err := add(p); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

// readIgnoreLines loads patterns from a gitignore-style file. A missing file
// is not an error.
func readIgnoreLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ignore file %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}
