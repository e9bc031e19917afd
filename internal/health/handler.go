package health

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailroom/internal/pkg/httputil"
)

type eventSourceView struct {
	Status        string  `json:"status"`
	ConnectedSince *string `json:"connected_since,omitempty"`
	LastEventAt    *string `json:"last_event_at,omitempty"`
	ReconnectCount int64   `json:"reconnect_count"`
	LastError      string  `json:"last_error,omitempty"`
}

type healthView struct {
	Status                string          `json:"status"`
	LastPollAgeSeconds     *float64        `json:"last_poll_age_seconds,omitempty"`
	EventSource            eventSourceView `json:"eventsource"`
}

// Handler returns a router serving GET /healthz. A poll is considered
// stale -- and the endpoint returns 503 -- once more than 2x pollInterval
// has elapsed since the last successful Poll; a process that has never
// completed a poll yet (just started) is reported healthy.
func Handler(state *State, pollInterval time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		snap := state.Snapshot()
		now := time.Now()

		var ageSeconds *float64
		healthy := true
		if !snap.LastSuccessfulPoll.IsZero() {
			age := now.Sub(snap.LastSuccessfulPoll)
			s := age.Seconds()
			ageSeconds = &s
			healthy = age < 2*pollInterval
		}

		view := healthView{
			LastPollAgeSeconds: ageSeconds,
			EventSource: eventSourceView{
				Status:         string(snap.SSEStatus),
				ReconnectCount: snap.SSEReconnectCount,
				LastError:      snap.SSELastError,
			},
		}
		if !snap.SSEConnectedSince.IsZero() {
			s := snap.SSEConnectedSince.UTC().Format(time.RFC3339)
			view.EventSource.ConnectedSince = &s
		}
		if !snap.SSELastEventAt.IsZero() {
			s := snap.SSELastEventAt.UTC().Format(time.RFC3339)
			view.EventSource.LastEventAt = &s
		}

		if healthy {
			view.Status = "ok"
			httputil.OK(w, view)
			return
		}
		view.Status = "unhealthy"
		httputil.JSON(w, http.StatusServiceUnavailable, view)
	})
	return r
}
