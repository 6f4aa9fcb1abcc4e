package rpcserver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"rpchost/internal/rpcerr"
	"rpchost/pkg/rpcapi"
)

const proxyPollInterval = 500 * time.Millisecond
const proxyFileName = "proxy.json"

// proxyState is the current delegation state of one service: either empty
// (served locally) or pointing at a remote peer that now owns the calls.
type proxyState struct {
	Host    string `json:"host"`
	Port    int32  `json:"port"`
	Version int32  `json:"version"`
}

func (p proxyState) active() bool { return p.Port != 0 }

type proxyTable struct {
	mu      sync.RWMutex
	entries map[string]proxyState
	path    string
}

func newProxyTable(workspace string) *proxyTable {
	var path string
	if workspace != "" {
		path = filepath.Join(workspace, proxyFileName)
	}
	return &proxyTable{entries: map[string]proxyState{}, path: path}
}

func (t *proxyTable) load() error {
	if t.path == "" {
		return nil
	}
	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return rpcerr.Wrap(err, rpcapi.ErrorGeneric, "reading persisted proxy registrations")
	}
	var entries map[string]proxyState
	if err := json.Unmarshal(data, &entries); err != nil {
		return rpcerr.Wrap(err, rpcapi.ErrorGeneric, "parsing persisted proxy registrations")
	}
	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
	return nil
}

func (t *proxyTable) persist() error {
	if t.path == "" {
		return nil
	}
	t.mu.RLock()
	data, err := json.MarshalIndent(t.entries, "", "  ")
	t.mu.RUnlock()
	if err != nil {
		return rpcerr.Wrap(err, rpcapi.ErrorGeneric, "encoding proxy registrations")
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return rpcerr.Wrap(err, rpcapi.ErrorGeneric, "creating workspace folder")
	}
	return os.WriteFile(t.path, data, 0o644)
}

func (t *proxyTable) get(name string) proxyState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[name]
}

func (t *proxyTable) set(name string, s proxyState) {
	t.mu.Lock()
	t.entries[name] = s
	t.mu.Unlock()
}

// forget clears the host/port delegation for name but keeps its last known
// version, matching the original's proxy_forget, so srv.info still reports
// the version the peer last declared.
func (t *proxyTable) forget(name string) {
	t.mu.Lock()
	if existing, ok := t.entries[name]; ok {
		t.entries[name] = proxyState{Version: existing.Version}
	}
	t.mu.Unlock()
}

func (t *proxyTable) all() map[string]proxyState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]proxyState, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}
