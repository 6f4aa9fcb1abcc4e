// Package rpcfolders resolves the three directory roots every manager is
// handed at preload time: a read-only system folder, a per-user folder, and
// a workspace folder for persisted runtime state (config.json, proxy.json,
// queues.json).
package rpcfolders

import "os"

// Folders holds the three root directories. System is never created by this
// package (it is expected to pre-exist, e.g. /etc/rpchost); User and
// Workspace are created lazily on first access.
type Folders struct {
	System    string
	user      string
	workspace string
}

// New builds a Folders value with the given roots. Call User()/Workspace()
// rather than reading the fields directly, since those lazily mkdir.
func New(system, user, workspace string) *Folders {
	return &Folders{System: system, user: user, workspace: workspace}
}

// User returns the per-user folder, creating it if necessary.
func (f *Folders) User() (string, error) {
	return ensure(f.user)
}

// Workspace returns the workspace folder, creating it if necessary.
func (f *Folders) Workspace() (string, error) {
	return ensure(f.workspace)
}

func ensure(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
