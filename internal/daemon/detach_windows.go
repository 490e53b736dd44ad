//go:build windows

package daemon

import "syscall"

// detachSysProcAttr detaches the spawned daemon from the CLI's console.
func detachSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
		HideWindow:    true,
	}
}
