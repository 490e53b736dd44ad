package mirror

import (
	"fmt"
	"path/filepath"
)

// Target identifies one service whose remote log and data trees are mirrored
// locally. Remote roots are paths on the configured remote host; local roots
// are absolute paths on this machine.
type Target struct {
	Label          string `json:"label" yaml:"label" mapstructure:"label"`
	RemoteLogRoot  string `json:"remoteLogRoot" yaml:"remote_log_root" mapstructure:"remote_log_root"`
	RemoteDataRoot string `json:"remoteDataRoot" yaml:"remote_data_root" mapstructure:"remote_data_root"`
	LocalLogRoot   string `json:"localLogRoot" yaml:"local_log_root" mapstructure:"local_log_root"`
	LocalDataRoot  string `json:"localDataRoot" yaml:"local_data_root" mapstructure:"local_data_root"`
}

func (t *Target) Validate() error {
	if t.Label == "" {
		return fmt.Errorf("target label cannot be empty")
	}
	if t.RemoteLogRoot == "" {
		return fmt.Errorf("target %q: remote_log_root cannot be empty", t.Label)
	}
	if t.RemoteDataRoot == "" {
		return fmt.Errorf("target %q: remote_data_root cannot be empty", t.Label)
	}
	if t.LocalLogRoot == "" {
		return fmt.Errorf("target %q: local_log_root cannot be empty", t.Label)
	}
	if t.LocalDataRoot == "" {
		return fmt.Errorf("target %q: local_data_root cannot be empty", t.Label)
	}
	for _, p := range []string{t.LocalLogRoot, t.LocalDataRoot} {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("target %q: local root %q must be an absolute path", t.Label, p)
		}
	}
	return nil
}
