package rpcserver

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"rpchost/internal/rpcmeta"
)

// inFlightCall is one entry of the server's in-flight call registry, used by
// the SIGUSR2 debug dump to show what every active goroutine is doing.
type inFlightCall struct {
	ID        string
	Service   string
	Method    string
	Meta      rpcmeta.Metadata
	StartedAt time.Time
}

func (c inFlightCall) String() string {
	return fmt.Sprintf("%s  %-30s  %-20s  started %s ago  caller=%s",
		c.ID, c.Service+"."+c.Method, c.Meta.Client, time.Since(c.StartedAt).Round(time.Millisecond), c.Meta)
}

type callRegistry struct {
	mu    sync.Mutex
	calls map[string]*inFlightCall
}

func newCallRegistry() *callRegistry {
	return &callRegistry{calls: map[string]*inFlightCall{}}
}

// begin records a new in-flight call and returns its id, to be passed to end.
func (r *callRegistry) begin(service, method string, meta rpcmeta.Metadata) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.calls[id] = &inFlightCall{ID: id, Service: service, Method: method, Meta: meta, StartedAt: time.Now()}
	r.mu.Unlock()
	return id
}

func (r *callRegistry) end(id string) {
	r.mu.Lock()
	delete(r.calls, id)
	r.mu.Unlock()
}

// snapshot returns every in-flight call, for the debug dump.
func (r *callRegistry) snapshot() []inFlightCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]inFlightCall, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, *c)
	}
	return out
}
