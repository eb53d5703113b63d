package event

import (
	"sync"
	"time"
)

// DefaultMaxEvents is the store capacity when none is configured.
const DefaultMaxEvents = 10000

// Store is a bounded in-memory event log. When the store is full the
// oldest event is evicted to make room. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	buf  []Event
	head int
	max  int
}

// NewStore returns a store holding at most maxEvents events. Values <= 0
// select DefaultMaxEvents.
func NewStore(maxEvents int) *Store {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Store{buf: make([]Event, 0, maxEvents), max: maxEvents}
}

// Add appends an event, evicting the oldest one if the store is full.
func (s *Store) Add(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.max {
		s.buf = append(s.buf, ev)
		return
	}
	s.buf[s.head] = ev
	s.head = (s.head + 1) % s.max
}

// at returns the i-th event in insertion order. Caller holds the lock.
func (s *Store) at(i int) Event {
	if len(s.buf) < s.max {
		return s.buf[i]
	}
	return s.buf[(s.head+i)%s.max]
}

// Filter selects events in Query. Zero-value fields do not filter.
// Since and Until are inclusive bounds on the event timestamp.
type Filter struct {
	SessionID string
	EventType string
	Component Component
	Since     time.Time
	Until     time.Time
	Limit     int
}

func (f Filter) matches(ev Event) bool {
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	if f.EventType != "" && ev.EventType != f.EventType {
		return false
	}
	if f.Component != "" && ev.Component != f.Component {
		return false
	}
	if !f.Since.IsZero() && ev.TS.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.TS.After(f.Until) {
		return false
	}
	return true
}

// Query returns events matching all set filter fields, oldest first.
// When Limit > 0, collection stops after Limit matches.
func (s *Store) Query(f Filter) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Event{}
	for i := 0; i < len(s.buf); i++ {
		ev := s.at(i)
		if !f.matches(ev) {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

// Stats summarizes the store contents.
type Stats struct {
	TotalEvents int       `json:"total_events"`
	MaxEvents   int       `json:"max_events"`
	OldestTS    time.Time `json:"oldest_event_ts"`
	NewestTS    time.Time `json:"newest_event_ts"`
}

// Stats returns counts and the timestamp range of stored events. The
// timestamps are zero when the store is empty.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{TotalEvents: len(s.buf), MaxEvents: s.max}
	if len(s.buf) > 0 {
		st.OldestTS = s.at(0).TS
		st.NewestTS = s.at(len(s.buf) - 1).TS
	}
	return st
}
