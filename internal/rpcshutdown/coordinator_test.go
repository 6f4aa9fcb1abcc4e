package rpcshutdown

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStopper struct {
	mu            sync.Mutex
	gracefulCalls int
	stopCalls     int
	gracefulDelay time.Duration
}

func (f *fakeStopper) GracefulStop() {
	time.Sleep(f.gracefulDelay)
	f.mu.Lock()
	f.gracefulCalls++
	f.mu.Unlock()
}

func (f *fakeStopper) Stop() {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
}

func TestTriggerRunsHooksInReverseOrder(t *testing.T) {
	stopper := &fakeStopper{}
	c := New(stopper, 2*time.Second, 2*time.Second, nil)

	var order []string
	var mu sync.Mutex
	c.AddShutdownHook("first", func() { mu.Lock(); order = append(order, "first"); mu.Unlock() })
	c.AddShutdownHook("second", func() { mu.Lock(); order = append(order, "second"); mu.Unlock() })

	c.Trigger(0)
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not complete in time")
	}

	assert.Equal(t, []string{"second", "first"}, order)
}

func TestTriggerFallsBackToForceStopPastGrace(t *testing.T) {
	stopper := &fakeStopper{gracefulDelay: 500 * time.Millisecond}
	c := New(stopper, 50*time.Millisecond, time.Second, nil)

	c.Trigger(0)
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete in time")
	}

	stopper.mu.Lock()
	defer stopper.mu.Unlock()
	assert.Equal(t, 1, stopper.stopCalls)
}

func TestTriggerIsIdempotent(t *testing.T) {
	stopper := &fakeStopper{}
	c := New(stopper, time.Second, time.Second, nil)

	c.Trigger(0)
	c.Trigger(0)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete in time")
	}
	require.Eventually(t, func() bool {
		stopper.mu.Lock()
		defer stopper.mu.Unlock()
		return stopper.gracefulCalls == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHookPanicDoesNotStopOtherHooks(t *testing.T) {
	stopper := &fakeStopper{}
	c := New(stopper, time.Second, time.Second, nil)

	var ran bool
	c.AddShutdownHook("boom", func() { panic("no") })
	c.AddShutdownHook("careful", func() { ran = true })

	c.Trigger(0)
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete in time")
	}
	assert.True(t, ran)
}
