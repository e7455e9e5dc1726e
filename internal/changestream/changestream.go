// Package changestream is the process-wide, bounded fan-out for device
// status-change events (spec §4.N). Workers publish; the HTTP side's
// realtime handler subscribes. A slow subscriber never blocks a
// publishing worker — its buffer is dropped and a counter incremented
// instead. Grounded on the teacher's atomic-counter idiom from
// monitoring/snmppoller.go (inFlightCounter/totalSNMPQueries), applied
// here to a new bounded MPSC fan-out the teacher doesn't itself have.
package changestream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/branchwatch/branchwatch/internal/logger"
)

// StatusChange is one device reachability transition.
type StatusChange struct {
	DeviceID  uuid.UUID
	OldStatus string
	NewStatus string
	Timestamp time.Time
}

// Stream is a bounded multi-producer, multi-consumer fan-out. Publish
// is safe for concurrent use by any number of workers; each subscriber
// gets its own bounded channel so one slow reader can't back up
// another.
type Stream struct {
	bufferSize int

	mu        sync.RWMutex
	subs      map[int]chan StatusChange
	nextID    int
	dropped   atomic.Int64
	delivered atomic.Int64

	log zerolog.Logger
}

// New builds a Stream whose per-subscriber channel holds bufferSize
// pending frames; while a subscriber's channel is full, newly published
// frames are dropped for that subscriber (and counted) rather than
// displacing the ones already queued.
func New(bufferSize int) *Stream {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Stream{
		bufferSize: bufferSize,
		subs:       make(map[int]chan StatusChange),
		log:        logger.Component("changestream"),
	}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe func the caller must call when done (e.g. on WebSocket
// disconnect) to release the channel.
func (s *Stream) Subscribe() (<-chan StatusChange, func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan StatusChange, s.bufferSize)
	s.subs[id] = ch
	s.mu.Unlock()

	return ch, func() { s.unsubscribe(id) }
}

func (s *Stream) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// Publish fans change out to every current subscriber. A subscriber
// whose buffer is full is skipped, not blocked on, and the drop is
// counted for the "too slow" telemetry gauge (§5 Backpressure).
func (s *Stream) Publish(change StatusChange) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subs {
		select {
		case ch <- change:
			s.delivered.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

// SubscriberCount reports how many listeners are currently attached.
func (s *Stream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns the cumulative count of frames dropped to a full
// subscriber buffer.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

// Delivered returns the cumulative count of frames successfully handed
// to a subscriber channel.
func (s *Stream) Delivered() int64 {
	return s.delivered.Load()
}
