// Package rpcshutdown drives the graceful-stop sequence shared by every
// rpchost server: stop accepting new calls, give in-flight ones a grace
// period, run every manager's shutdown hook in reverse registration order,
// optionally wait out an extra delay (so an orchestrator notices the
// "stopping" state before the process actually exits), detach rotating log
// handlers, and finally signal completion.
package rpcshutdown

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rpchost/internal/rpclog"
)

// Stopper is the transport surface the coordinator needs: graceful and
// forced termination. internal/rpcserver.Server satisfies this.
type Stopper interface {
	GracefulStop()
	Stop()
}

// Coordinator runs the shutdown sequence at most once.
type Coordinator struct {
	stopper Stopper
	grace   time.Duration
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	hooks []namedHook

	once sync.Once
	done chan struct{}
}

type namedHook struct {
	name string
	fn   func()
}

// New builds a Coordinator. grace bounds how long GracefulStop is given
// before falling back to a forced Stop; timeout bounds the forced Stop path
// itself, mirroring rpc-shutdown-grace / rpc-shutdown-timeout.
func New(stopper Stopper, grace, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = rpclog.Named("rpcshutdown")
	}
	return &Coordinator{stopper: stopper, grace: grace, timeout: timeout, logger: logger, done: make(chan struct{})}
}

// AddShutdownHook registers a manager's shutdown callback. Hooks run in
// reverse registration order when shutdown runs, so a manager that depends
// on another (registered earlier) tears down first.
func (c *Coordinator) AddShutdownHook(name string, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, namedHook{name: name, fn: fn})
}

// Trigger begins the shutdown sequence asynchronously; delay, when positive,
// is waited out after the transport has stopped and the hooks have run, just
// before completion is signalled. Calling Trigger more than once is safe;
// only the first call has an effect.
func (c *Coordinator) Trigger(delay time.Duration) {
	go c.once.Do(func() { c.run(delay) })
}

// Done returns a channel closed once the full sequence has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) run(delay time.Duration) {
	defer close(c.done)

	c.stopTransport()
	c.runHooksReverse()

	if delay > 0 {
		c.logger.Info("transport stopped, delaying before completing shutdown", "delay", delay)
		time.Sleep(delay)
	}

	rpclog.RemoveAllRotatingHandlers()

	c.logger.Info("shutdown complete")
}

// stopTransport attempts GracefulStop within c.grace, falling back to a
// forced Stop if it doesn't finish in time - the same fallback the teacher's
// waitForShutdown uses around its GracefulStop call.
func (c *Coordinator) stopTransport() {
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error {
		c.stopper.GracefulStop()
		return nil
	})

	gracefulDone := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(gracefulDone)
	}()

	select {
	case <-gracefulDone:
		c.logger.Info("transport stopped gracefully")
	case <-time.After(c.grace):
		c.logger.Warn("graceful stop grace period elapsed, forcing shutdown", "grace", c.grace)
		c.stopper.Stop()
		select {
		case <-gracefulDone:
		case <-time.After(c.timeout):
			c.logger.Error("transport did not stop within timeout", "timeout", c.timeout)
		}
	}
}

func (c *Coordinator) runHooksReverse() {
	c.mu.Lock()
	hooks := append([]namedHook(nil), c.hooks...)
	c.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		c.logger.Debug("running shutdown hook", "manager", h.name)
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("shutdown hook panicked", "manager", h.name, "panic", r)
				}
			}()
			h.fn()
		}()
	}
}
