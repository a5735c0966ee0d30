package logging

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultBufferSize is the number of entries kept by Recent.
const DefaultBufferSize = 500

// Entry is one captured log line.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// RingBuffer is a logrus hook that keeps the most recent entries in memory.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewRingBuffer returns a buffer holding up to capacity entries.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &RingBuffer{entries: make([]Entry, capacity)}
}

// Levels implements log.Hook.
func (rb *RingBuffer) Levels() []log.Level {
	return log.AllLevels
}

// Fire implements log.Hook.
func (rb *RingBuffer) Fire(e *log.Entry) error {
	level := e.Level.String()
	if level == "warning" {
		level = "warn"
	}
	var fields map[string]any
	if len(e.Data) > 0 {
		fields = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			fields[k] = v
		}
	}

	rb.mu.Lock()
	rb.entries[rb.next] = Entry{Time: e.Time, Level: level, Message: e.Message, Fields: fields}
	rb.next = (rb.next + 1) % len(rb.entries)
	if rb.next == 0 {
		rb.full = true
	}
	rb.mu.Unlock()
	return nil
}

// Recent returns up to n entries at or above minLevel, oldest first. n <= 0 means all.
func (rb *RingBuffer) Recent(n int, minLevel log.Level) []Entry {
	rb.mu.RLock()
	var ordered []Entry
	if rb.full {
		ordered = append(append(ordered, rb.entries[rb.next:]...), rb.entries[:rb.next]...)
	} else {
		ordered = append(ordered, rb.entries[:rb.next]...)
	}
	rb.mu.RUnlock()

	out := make([]Entry, 0, len(ordered))
	for _, e := range ordered {
		lvl, err := log.ParseLevel(e.Level)
		if err == nil && lvl > minLevel {
			continue
		}
		out = append(out, e)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Len returns the number of entries held.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return len(rb.entries)
	}
	return rb.next
}

// GlobalBuffer captures the shared logger once SetupBaseLogger has run.
var GlobalBuffer = NewRingBuffer(DefaultBufferSize)
