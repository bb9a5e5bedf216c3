package events

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Emitter is the handle components use to report what they are doing.
// Core packages take an Emitter at construction instead of logging globally.
type Emitter interface {
	Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error)
}

// Journal persists selected events outside the process.
type Journal interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Bus records, fans out and optionally journals events.
type Bus struct {
	buffer      *RingBuffer
	broadcaster *Broadcaster
	total       atomic.Int64

	mu              sync.RWMutex
	out             io.Writer
	journal         Journal
	sessionID       string
	journalErrorLog bool
}

// NewBus creates a bus keeping the last bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		buffer:      NewRingBuffer(bufferSize),
		broadcaster: newBroadcaster(),
	}
}

// SetOutput mirrors every event to w as a JSON line. nil disables mirroring.
func (b *Bus) SetOutput(w io.Writer) {
	b.mu.Lock()
	b.out = w
	b.mu.Unlock()
}

// SetJournal sets the journal for event persistence.
func (b *Bus) SetJournal(j Journal, sessionID string) {
	b.mu.Lock()
	b.journal = j
	b.sessionID = sessionID
	b.journalErrorLog = false
	b.mu.Unlock()
}

func (b *Bus) Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	b.buffer.Add(e)
	b.total.Add(1)
	b.broadcaster.broadcast(e)

	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	b.mu.RLock()
	out := b.out
	journal := b.journal
	sessionID := b.sessionID
	b.mu.RUnlock()

	if out != nil {
		_, _ = out.Write(append(data, '\n'))
	}

	if journal != nil && Journaled(level, name) {
		if err := journal.Append(ts, level, name, msg, fields, sessionID); err != nil {
			b.journalFailed(err)
		}
	}

	return data, nil
}

// journalFailed records a single system.error for the first journal failure.
// It adds straight to the buffer, NOT through Emit, so a dead journal cannot recurse.
func (b *Bus) journalFailed(err error) {
	b.mu.Lock()
	if b.journalErrorLog {
		b.mu.Unlock()
		return
	}
	b.journalErrorLog = true
	b.mu.Unlock()

	errEvent := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     "error",
		Name:      "system.error",
		Message:   "journal append failed",
		Fields: map[string]interface{}{
			"error": err.Error(),
		},
	}
	b.buffer.Add(errEvent)
	b.total.Add(1)
	b.broadcaster.broadcast(errEvent)
}

// Journaled reports whether an event belongs in the diagnostics journal.
// Playback events stay in memory; only system events, config diagnostics
// and warnings or errors are persisted.
func Journaled(level, name string) bool {
	if level == "warn" || level == "error" {
		return true
	}
	return strings.HasPrefix(name, "system.") || strings.HasPrefix(name, "config.")
}

func (b *Bus) Snapshot() []Event {
	return b.buffer.Snapshot()
}

// RecentEvents returns the last n events from the ring buffer.
// If n is greater than available events, returns all available.
func (b *Bus) RecentEvents(n int) []Event {
	all := b.buffer.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// TotalCount returns the number of events emitted since the bus was created.
func (b *Bus) TotalCount() int64 {
	return b.total.Load()
}

// Clear resets the event buffer. Used for testing.
func (b *Bus) Clear() {
	b.buffer.Clear()
}
