package rpcevents

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpchost/pkg/rpcapi"
)

func collectOne(t *testing.T, m *Manager, filter rpcapi.EventFilter) (int32, chan rpcapi.EventStatus, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan rpcapi.EventStatus, 16)
	var clientID int32
	ready := make(chan struct{})
	first := true
	go func() {
		_ = m.Listen(ctx, filter, func(s rpcapi.EventStatus) error {
			if first {
				// The allocation/resume status carries only the id; it is
				// consumed here so out holds only what follows it.
				first = false
				clientID = s.ClientID
				close(ready)
				return nil
			}
			out <- s
			return nil
		})
	}()
	<-ready
	return clientID, out, cancel
}

func TestListenAllocatesIncreasingIDs(t *testing.T) {
	m := NewManager()
	id1, _, cancel1 := collectOne(t, m, rpcapi.EventFilter{})
	id2, _, cancel2 := collectOne(t, m, rpcapi.EventFilter{})
	defer cancel1()
	defer cancel2()

	assert.Equal(t, int32(1), id1)
	assert.Equal(t, int32(2), id2)
}

func TestSendDeliversToMatchingSubscribersOnly(t *testing.T) {
	m := NewManager()
	_, allEvents, cancelAll := collectOne(t, m, rpcapi.EventFilter{})
	_, filtered, cancelFiltered := collectOne(t, m, rpcapi.EventFilter{Names: []string{"widget.created"}})
	defer cancelAll()
	defer cancelFiltered()

	delivered, err := m.Send(rpcapi.Event{Name: "widget.created"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), delivered)

	delivered, err = m.Send(rpcapi.Event{Name: "widget.deleted"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), delivered)

	select {
	case s := <-allEvents:
		assert.Equal(t, "widget.created", s.Event.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

// TestInterruptUnblocksLiveListenAndBuffersDuringWindow drives a still-open
// stream through interrupt, a send while interrupted, and resume, asserting
// every event is delivered exactly once and in order across both halves of
// the stream.
func TestInterruptUnblocksLiveListenAndBuffersDuringWindow(t *testing.T) {
	m := NewManager()
	id, firstEvents, cancel := collectOne(t, m, rpcapi.EventFilter{})
	defer cancel()

	delivered, err := m.Send(rpcapi.Event{Name: "e1"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), delivered)

	select {
	case s := <-firstEvents:
		require.NotNil(t, s.Event)
		assert.Equal(t, "e1", s.Event.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for e1")
	}

	require.NoError(t, m.Interrupt(id))
	assert.Error(t, m.Interrupt(id), "interrupting twice should fail")

	// The live Listen call unblocks on its own, forwarding the interrupt
	// sentinel instead of hanging until ctx is cancelled.
	select {
	case s := <-firstEvents:
		assert.Nil(t, s.Event)
		assert.Equal(t, rpcapi.ErrorStreamInterrupted, s.R.Code)
	case <-time.After(time.Second):
		t.Fatal("interrupt did not unblock the live listener")
	}

	delivered, err = m.Send(rpcapi.Event{Name: "e2"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), delivered, "event sent during the retain window should still be buffered")

	resumedID, resumedEvents, cancelResumed := collectOne(t, m, rpcapi.EventFilter{ClientID: id})
	defer cancelResumed()
	assert.Equal(t, id, resumedID)

	select {
	case s := <-resumedEvents:
		require.NotNil(t, s.Event)
		assert.Equal(t, "e2", s.Event.Name)
	case <-time.After(time.Second):
		t.Fatal("resumed queue did not replay the buffered e2")
	}

	delivered, err = m.Send(rpcapi.Event{Name: "e3"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), delivered)

	select {
	case s := <-resumedEvents:
		require.NotNil(t, s.Event)
		assert.Equal(t, "e3", s.Event.Name)
	case <-time.After(time.Second):
		t.Fatal("resumed queue did not receive e3")
	}
}

func TestInspectReportsKnownQueues(t *testing.T) {
	m := NewManager()
	_, _, cancel := collectOne(t, m, rpcapi.EventFilter{})
	defer cancel()

	statuses := m.Inspect()
	require.Len(t, statuses, 1)
	assert.Equal(t, int32(1), statuses[0].ClientID)
	assert.False(t, statuses[0].Interrupted)
}

func TestPersistedQueuesAreRestoredAsInterrupted(t *testing.T) {
	dir := t.TempDir()
	m1 := NewManager(WithWorkspace(dir))
	id, _, cancel := collectOne(t, m1, rpcapi.EventFilter{})
	cancel()
	time.Sleep(50 * time.Millisecond)

	m2 := NewManager(WithWorkspace(dir))
	statuses := m2.Inspect()
	require.Len(t, statuses, 1)
	assert.Equal(t, id, statuses[0].ClientID)
	assert.True(t, statuses[0].Interrupted)

	assert.FileExists(t, filepath.Join(dir, queuesFileName))
}

func TestShutdownUnblocksActiveListeners(t *testing.T) {
	m := NewManager()
	_, events, cancel := collectOne(t, m, rpcapi.EventFilter{})
	defer cancel()

	m.Shutdown()
	select {
	case s := <-events:
		assert.Equal(t, rpcapi.ErrorStreamShutdown, s.R.Code)
	case <-time.After(time.Second):
		t.Fatal("shutdown did not reach listener")
	}
}
