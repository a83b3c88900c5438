package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"PositionSentinel/internal/model"
)

// DefaultActivityCapacity bounds the activity log.
const DefaultActivityCapacity = 50

// ActivityLog is a bounded, newest-first log of bot actions. Subscribers
// receive every new entry; slow subscribers miss entries rather than block.
type ActivityLog struct {
	mu       sync.RWMutex
	entries  []model.LogEntry
	capacity int

	subs    map[int]chan model.LogEntry
	nextSub int
}

// NewActivityLog creates a log holding at most capacity entries.
func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = DefaultActivityCapacity
	}
	return &ActivityLog{capacity: capacity, subs: make(map[int]chan model.LogEntry)}
}

// Add records a message and fans it out to subscribers.
func (a *ActivityLog) Add(level model.LogLevel, message string) model.LogEntry {
	entry := model.LogEntry{
		ID:        ulid.Make().String(),
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append([]model.LogEntry{entry}, a.entries...)
	if len(a.entries) > a.capacity {
		a.entries = a.entries[:a.capacity]
	}
	for _, ch := range a.subs {
		select {
		case ch <- entry:
		default:
		}
	}
	return entry
}

func (a *ActivityLog) Addf(level model.LogLevel, format string, args ...any) model.LogEntry {
	return a.Add(level, fmt.Sprintf(format, args...))
}

// Recent returns up to n entries, newest first. n <= 0 returns all.
func (a *ActivityLog) Recent(n int) []model.LogEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if n <= 0 || n > len(a.entries) {
		n = len(a.entries)
	}
	out := make([]model.LogEntry, n)
	copy(out, a.entries[:n])
	return out
}

// Last returns the newest entry.
func (a *ActivityLog) Last() (model.LogEntry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.entries) == 0 {
		return model.LogEntry{}, false
	}
	return a.entries[0], true
}

// Subscribe returns a channel of new entries and a function that ends the subscription.
func (a *ActivityLog) Subscribe(buffer int) (<-chan model.LogEntry, func()) {
	ch := make(chan model.LogEntry, buffer)

	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
			close(ch)
		})
	}
}
