//go:build !windows

package daemon

import "syscall"

// detachSysProcAttr puts the spawned daemon in its own process group so a
// Ctrl-C aimed at the CLI never propagates to it.
func detachSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
}
