// Package eventstore provides the in-memory implementation of
// aster.EventStore: a TTL-bounded append-only event log for resumable
// streams. It suits a single server process; events are lost on restart.
package eventstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	aster "github.com/corven/aster"
)

// DefaultTTL bounds how long a stream is readable after creation.
const DefaultTTL = 300 * time.Second

type streamData struct {
	events    []aster.StreamEvent
	state     string
	createdAt time.Time
	counter   int
}

// Memory is an in-memory aster.EventStore. Streams expire TTL after their
// creation timestamp; expired streams are observed as absent.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	streams map[string]*streamData
	now     func() time.Time
}

// Option configures a Memory store.
type Option func(*Memory)

// WithTTL overrides the stream expiry.
func WithTTL(ttl time.Duration) Option {
	return func(m *Memory) { m.ttl = ttl }
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// New creates an empty store with the default TTL.
func New(opts ...Option) *Memory {
	m := &Memory{
		ttl:     DefaultTTL,
		streams: make(map[string]*streamData),
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// get returns live stream data, evicting it first when expired. Caller holds
// the lock.
func (m *Memory) get(streamID string) *streamData {
	data, ok := m.streams[streamID]
	if !ok {
		return nil
	}
	if m.now().Sub(data.createdAt) > m.ttl {
		delete(m.streams, streamID)
		return nil
	}
	return data
}

// Append adds an event, assigning the next id in the stream. The caller's id
// is ignored. The stream is created on first append in state "generating".
func (m *Memory) Append(_ context.Context, streamID string, event aster.StreamEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.streams[streamID]
	if !ok {
		data = &streamData{state: aster.StreamGenerating, createdAt: m.now()}
		m.streams[streamID] = data
	}

	data.counter++
	event.ID = strconv.Itoa(data.counter)
	data.events = append(data.events, event)
	return nil
}

// Read returns at most count events strictly after `after`, in append order.
func (m *Memory) Read(_ context.Context, streamID, after string, count int) ([]aster.StreamEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := m.get(streamID)
	if data == nil {
		return nil, nil
	}

	events := data.events
	if after != "" {
		start := -1
		for i, e := range events {
			if e.ID == after {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, nil
		}
		events = events[start:]
	}
	if count < len(events) {
		events = events[:count]
	}
	out := make([]aster.StreamEvent, len(events))
	copy(out, events)
	return out, nil
}

// GetStatus returns the stream status, or nil when absent or expired.
func (m *Memory) GetStatus(_ context.Context, streamID string) (*aster.StreamStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := m.get(streamID)
	if data == nil {
		return nil, nil
	}
	return &aster.StreamStatus{
		StreamID:   streamID,
		State:      data.state,
		EventCount: len(data.events),
	}, nil
}

// MarkComplete transitions the stream to "completed". Absent streams are a
// no-op.
func (m *Memory) MarkComplete(_ context.Context, streamID string) error {
	return m.setState(streamID, aster.StreamCompleted)
}

// MarkFailed transitions the stream to "failed". Absent streams are a no-op.
func (m *Memory) MarkFailed(_ context.Context, streamID string) error {
	return m.setState(streamID, aster.StreamFailed)
}

func (m *Memory) setState(streamID, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.streams[streamID]; ok {
		data.state = state
	}
	return nil
}

var _ aster.EventStore = (*Memory)(nil)
