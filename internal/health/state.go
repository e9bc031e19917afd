// Package health holds the process-wide health state written by the
// supervisor's main loop and the SSE listener, and served over HTTP.
package health

import (
	"sync/atomic"
	"time"
)

// SSEStatus is the connection state of the event-source listener.
type SSEStatus string

const (
	SSENotStarted SSEStatus = "not_started"
	SSEConnected  SSEStatus = "connected"
	SSEDisconnected SSEStatus = "disconnected"
)

// State is the process-wide health state. Each field has exactly one
// writer: LastSuccessfulPoll is written only by the main loop after a
// successful Poll; the SSE* fields are written only by the SSE listener
// goroutine. Single-writer-per-field means plain atomics suffice --
// no mutex is needed since there is never a write/write race, only
// the read side (the /healthz handler) competing with a single writer.
type State struct {
	lastSuccessfulPollUnixNano atomic.Int64

	sseStatus          atomic.Value // string(SSEStatus)
	sseConnectedSince  atomic.Int64 // unix nano, 0 if never connected
	sseLastEventAt     atomic.Int64 // unix nano, 0 if no event yet
	sseReconnectCount  atomic.Int64
	sseLastError       atomic.Value // string
}

// New returns a fresh State with sseStatus initialized to "not_started".
func New() *State {
	s := &State{}
	s.sseStatus.Store(string(SSENotStarted))
	s.sseLastError.Store("")
	return s
}

// MarkPollSuccess stamps the last-successful-poll timestamp to now.
func (s *State) MarkPollSuccess(now time.Time) {
	s.lastSuccessfulPollUnixNano.Store(now.UnixNano())
}

// LastSuccessfulPoll returns the last successful poll time, or the zero
// Time if no poll has ever succeeded.
func (s *State) LastSuccessfulPoll() time.Time {
	n := s.lastSuccessfulPollUnixNano.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// MarkSSEConnected records a successful SSE connection.
func (s *State) MarkSSEConnected(now time.Time) {
	s.sseStatus.Store(string(SSEConnected))
	s.sseConnectedSince.Store(now.UnixNano())
}

// MarkSSEEvent records that a state-changed event was just received.
func (s *State) MarkSSEEvent(now time.Time) {
	s.sseLastEventAt.Store(now.UnixNano())
}

// MarkSSEDisconnected records a disconnection: increments the reconnect
// counter and stores the triggering error.
func (s *State) MarkSSEDisconnected(err error) {
	s.sseStatus.Store(string(SSEDisconnected))
	s.sseReconnectCount.Add(1)
	if err != nil {
		s.sseLastError.Store(err.Error())
	}
}

// Snapshot is a point-in-time, read-only copy of State for JSON rendering.
type Snapshot struct {
	LastSuccessfulPoll time.Time
	SSEStatus          SSEStatus
	SSEConnectedSince  time.Time
	SSELastEventAt     time.Time
	SSEReconnectCount  int64
	SSELastError       string
}

// Snapshot reads every field once for a consistent-enough view to render
// in a health response.
func (s *State) Snapshot() Snapshot {
	toTime := func(n int64) time.Time {
		if n == 0 {
			return time.Time{}
		}
		return time.Unix(0, n)
	}

	status, _ := s.sseStatus.Load().(string)
	lastErr, _ := s.sseLastError.Load().(string)

	return Snapshot{
		LastSuccessfulPoll: s.LastSuccessfulPoll(),
		SSEStatus:          SSEStatus(status),
		SSEConnectedSince:  toTime(s.sseConnectedSince.Load()),
		SSELastEventAt:     toTime(s.sseLastEventAt.Load()),
		SSEReconnectCount:  s.sseReconnectCount.Load(),
		SSELastError:       lastErr,
	}
}
