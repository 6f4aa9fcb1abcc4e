// Package rpcevents is rpchost's pub/sub event bus: callers open a
// server-streaming listen() call to receive a bounded, per-subscriber queue
// of events, can interrupt and later resume that queue within a retain
// window, and any caller can send() a named event to every matching
// subscriber. A background keep-alive goroutine periodically pushes an
// unnamed event to every active queue so long-lived streams aren't mistaken
// for dead connections.
package rpcevents

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"rpchost/internal/rpcerr"
	"rpchost/internal/rpclog"
	"rpchost/pkg/rpcapi"
)

const (
	defaultQueueDepth    = 64
	defaultRetainTimeout = 5 * time.Minute
	defaultKeepAlive     = 30 * time.Second
	queuesFileName       = "queues.json"
)

type subscriber struct {
	id            int
	names         map[string]struct{} // empty set = no filter, deliver everything
	ch            chan rpcapi.EventStatus
	interrupted   bool
	interruptedAt time.Time
}

func (s *subscriber) matches(name string) bool {
	if len(s.names) == 0 {
		return true
	}
	_, ok := s.names[name]
	return ok
}

// Manager is the server-side event bus. One Manager backs the events
// built-in service of a single host.
type Manager struct {
	mu            sync.Mutex
	subscribers   map[int]*subscriber
	retainTimeout time.Duration
	queueDepth    int
	keepAlive     time.Duration
	workspace     string
	logger        *slog.Logger
	stopKeepAlive chan struct{}
	stoppedOnce   sync.Once

	redisClient *redis.Client
	redisKey    string
}

// Option customizes a Manager.
type Option func(*Manager)

func WithRetainTimeout(d time.Duration) Option { return func(m *Manager) { m.retainTimeout = d } }
func WithQueueDepth(n int) Option              { return func(m *Manager) { m.queueDepth = n } }
func WithKeepAlive(d time.Duration) Option     { return func(m *Manager) { m.keepAlive = d } }
func WithWorkspace(path string) Option         { return func(m *Manager) { m.workspace = path } }
func WithLogger(l *slog.Logger) Option         { return func(m *Manager) { m.logger = l } }

// WithRedisBackend makes known-queue-id retention shared across every
// rpchost process pointed at the same Redis instance and key, instead of
// the default single-process queues.json file. Useful when several hosts
// behind the same proxy registration need to agree on which queue ids are
// already taken.
func WithRedisBackend(client *redis.Client, key string) Option {
	return func(m *Manager) { m.redisClient = client; m.redisKey = key }
}

// NewManager builds a Manager, restoring any persisted queue ids as
// already-interrupted queues (matching the original's behaviour of treating
// every queue known from a previous run as immediately interrupted, since no
// live stream can possibly be attached to it yet).
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		subscribers:   map[int]*subscriber{},
		retainTimeout: defaultRetainTimeout,
		queueDepth:    defaultQueueDepth,
		keepAlive:     defaultKeepAlive,
		stopKeepAlive: make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = rpclog.Named("events")
	}
	m.restorePersistedQueues()
	return m
}

func (m *Manager) queuesFile() string {
	if m.workspace == "" {
		return ""
	}
	return filepath.Join(m.workspace, queuesFileName)
}

func (m *Manager) restorePersistedQueues() {
	var ids []int
	if m.redisClient != nil {
		ids = m.restoreFromRedis()
	} else {
		ids = m.restoreFromFile()
	}
	for _, id := range ids {
		m.subscribers[id] = &subscriber{
			id:            id,
			ch:            make(chan rpcapi.EventStatus, m.queueDepth),
			interrupted:   true,
			interruptedAt: time.Now(),
		}
	}
}

func (m *Manager) restoreFromFile() []int {
	path := m.queuesFile()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var persisted map[string][]string
	if err := json.Unmarshal(data, &persisted); err != nil {
		m.logger.Warn("could not parse persisted event queues", "error", err)
		return nil
	}
	ids := make([]int, 0, len(persisted))
	for idStr := range persisted {
		if id, err := strconv.Atoi(idStr); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Manager) restoreFromRedis() []int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	members, err := m.redisClient.SMembers(ctx, m.redisKey).Result()
	if err != nil {
		m.logger.Warn("could not read persisted event queues from redis", "error", err)
		return nil
	}
	ids := make([]int, 0, len(members))
	for _, raw := range members {
		if id, err := strconv.Atoi(raw); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Manager) persistQueues() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.subscribers))
	for id := range m.subscribers {
		ids = append(ids, strconv.Itoa(id))
	}
	m.mu.Unlock()

	if m.redisClient != nil {
		m.persistToRedis(ids)
		return
	}
	m.persistToFile(ids)
}

func (m *Manager) persistToRedis(ids []string) {
	if m.redisKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.redisClient.Del(ctx, m.redisKey).Err(); err != nil {
		m.logger.Error("clearing persisted event queues in redis", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := m.redisClient.SAdd(ctx, m.redisKey, members...).Err(); err != nil {
		m.logger.Error("writing persisted event queues to redis", "error", err)
	}
}

func (m *Manager) persistToFile(ids []string) {
	path := m.queuesFile()
	if path == "" {
		return
	}
	out := make(map[string][]string, len(ids))
	for _, id := range ids {
		out[id] = []string{}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		m.logger.Error("encoding persisted event queues", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		m.logger.Error("creating workspace folder", "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		m.logger.Error("writing persisted event queues", "error", err)
	}
}

// KnownIDs returns every queue id the manager currently knows about,
// interrupted or not.
func (m *Manager) KnownIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.subscribers))
	for id := range m.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Start launches the background keep-alive goroutine. Call once per Manager
// lifetime; pair with Shutdown.
func (m *Manager) Start() {
	go m.keepAliveLoop()
}

func (m *Manager) keepAliveLoop() {
	ticker := time.NewTicker(m.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.broadcast(rpcapi.Event{})
		case <-m.stopKeepAlive:
			return
		}
	}
}

func namesSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// Listen implements the events.listen server-streaming method: it allocates
// or resumes a subscriber queue and forwards every matching event to send
// until ctx is cancelled or the queue is interrupted. A cancelled ctx marks
// the queue interrupted, so it can be resumed like an explicit interrupt.
func (m *Manager) Listen(ctx context.Context, filter rpcapi.EventFilter, send func(rpcapi.EventStatus) error) error {
	sub, firstStatus, err := m.attach(filter)
	if err != nil {
		return err
	}
	if err := send(firstStatus); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			// The stream went away: treat it as an interruption so the
			// queue can be resumed within the retain window.
			m.mu.Lock()
			if !sub.interrupted {
				sub.interrupted = true
				sub.interruptedAt = time.Now()
			}
			m.mu.Unlock()
			return nil
		case status, ok := <-sub.ch:
			if !ok {
				return nil
			}
			if err := send(status); err != nil {
				return err
			}
			if status.R.Code == rpcapi.ErrorStreamShutdown || status.R.Code == rpcapi.ErrorStreamInterrupted {
				return nil
			}
		}
	}
}

// attach allocates a new subscriber (filter.ClientID == 0) using the
// smallest unused positive integer, or resumes a previously interrupted one
// within its retain window.
func (m *Manager) attach(filter rpcapi.EventFilter) (*subscriber, rpcapi.EventStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if filter.ClientID != 0 {
		sub, ok := m.subscribers[int(filter.ClientID)]
		if !ok {
			return nil, rpcapi.EventStatus{}, rpcerr.Newf(rpcapi.ErrorItemUnknown, "unknown event queue %d", filter.ClientID)
		}
		if !sub.interrupted {
			return nil, rpcapi.EventStatus{}, rpcerr.Newf(rpcapi.ErrorStateUnexpected, "event queue %d is already being listened to", filter.ClientID)
		}
		sub.interrupted = false
		sub.names = namesSet(filter.Names)
		return sub, rpcapi.EventStatus{ClientID: int32(sub.id), R: rpcapi.OKResult()}, nil
	}

	id := 1
	for {
		if _, taken := m.subscribers[id]; !taken {
			break
		}
		id++
	}
	sub := &subscriber{id: id, names: namesSet(filter.Names), ch: make(chan rpcapi.EventStatus, m.queueDepth)}
	m.subscribers[id] = sub
	go m.persistQueues()

	return sub, rpcapi.EventStatus{ClientID: int32(id), R: rpcapi.OKResult()}, nil
}

// Interrupt stops delivery to a queue without discarding it, and unblocks
// whatever Listen call currently holds it by pushing an
// ERROR_STREAM_INTERRUPTED status onto its channel. The queue may be resumed
// via Listen within the retain timeout; events sent in the meantime are
// still buffered, not dropped.
func (m *Manager) Interrupt(clientID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscribers[int(clientID)]
	if !ok {
		return rpcerr.Newf(rpcapi.ErrorItemUnknown, "unknown event queue %d", clientID)
	}
	if sub.interrupted {
		return rpcerr.Newf(rpcapi.ErrorStateUnexpected, "event queue %d is already interrupted", clientID)
	}
	sub.interrupted = true
	sub.interruptedAt = time.Now()

	select {
	case sub.ch <- rpcapi.EventStatus{ClientID: clientID, R: rpcapi.ErrResult(rpcapi.ErrorStreamInterrupted, "event queue interrupted")}:
	default:
		m.logger.Warn("event queue full, could not deliver interrupt sentinel", "clientId", clientID)
	}
	return nil
}

// Send delivers event to every subscriber whose filter matches its name and
// reports how many it reached, rejecting a blank or whitespace-only event
// name. Queues interrupted for longer than the retain timeout are dropped as
// part of this call, mirroring the original's retain-timeout cleanup in its
// send path; queues interrupted within the window still receive the event so
// a later resume sees it.
func (m *Manager) Send(event rpcapi.Event) (int32, error) {
	if strings.TrimSpace(event.Name) == "" {
		return 0, rpcerr.New(rpcapi.ErrorParamInvalid, "event name must not be empty")
	}
	return m.broadcast(event), nil
}

func (m *Manager) broadcast(event rpcapi.Event) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var delivered int32
	for id, sub := range m.subscribers {
		if sub.interrupted && now.Sub(sub.interruptedAt) > m.retainTimeout {
			delete(m.subscribers, id)
			close(sub.ch)
			continue
		}
		if event.Name == "" {
			if len(sub.names) != 0 {
				continue
			}
		} else if !sub.matches(event.Name) {
			continue
		}
		select {
		case sub.ch <- rpcapi.EventStatus{ClientID: int32(id), Event: &event, R: rpcapi.OKResult()}:
			delivered++
		default:
			m.logger.Warn("event queue full, dropping event", "clientId", id, "event", event.Name)
		}
	}
	return delivered
}

// Inspect reports every known queue's id, interrupted state and current
// depth.
func (m *Manager) Inspect() []rpcapi.EventQueueStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]rpcapi.EventQueueStatus, 0, len(m.subscribers))
	for id, sub := range m.subscribers {
		out = append(out, rpcapi.EventQueueStatus{
			ClientID:    int32(id),
			Interrupted: sub.interrupted,
			Depth:       int32(len(sub.ch)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// Shutdown stops the keep-alive goroutine and pushes an ERROR_STREAM_SHUTDOWN
// status to every active queue so listeners unblock instead of hanging.
func (m *Manager) Shutdown() {
	m.stoppedOnce.Do(func() { close(m.stopKeepAlive) })

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subscribers {
		if sub.interrupted {
			continue
		}
		select {
		case sub.ch <- rpcapi.EventStatus{ClientID: int32(sub.id), R: rpcapi.ErrResult(rpcapi.ErrorStreamShutdown, "server is shutting down")}:
		default:
		}
	}
}
