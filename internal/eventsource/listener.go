// Package eventsource runs the long-lived SSE connection to the mail
// provider's event source, pushing opaque tokens onto a channel whenever
// the server reports a state change.
package eventsource

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ignite/mailroom/internal/health"
	"github.com/ignite/mailroom/internal/pkg/logger"
)

// pingInterval is the provider's keepalive ping cadence, requested via the
// "ping" query parameter; readTimeout is set comfortably above twice that
// so a missed ping is a detectable stall rather than a silent hang.
const (
	pingInterval = 30 * time.Second
	readTimeout  = 70 * time.Second
)

// Listener holds the long-lived connection to the mail provider's
// event-source endpoint.
type Listener struct {
	url    string
	token  string
	health *health.State
	log    *logger.Logger

	tokens chan struct{}
}

// New returns a Listener for the given event-source URL and bearer token.
// tokens receives one value per "event: state" line observed; it is
// buffered so a burst of events during a debounce window never blocks the
// read loop.
func New(eventSourceURL, token string, state *health.State) *Listener {
	return &Listener{
		url:    eventSourceURL,
		token:  token,
		health: state,
		log:    logger.New().With("component", "eventsource"),
		tokens: make(chan struct{}, 64),
	}
}

// Tokens returns the channel the dispatcher reads "state changed" markers
// from.
func (l *Listener) Tokens() <-chan struct{} { return l.tokens }

// Run is the long-running loop: connect, stream lines until disconnection,
// reconnect with backoff, repeat until ctx is canceled.
func (l *Listener) Run(ctx context.Context) {
	bo := newReconnectBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		serverRetry, connected, connectErr := l.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		if connected {
			bo.Reset()
		}
		l.health.MarkSSEDisconnected(connectErr)

		var delay time.Duration
		if serverRetry > 0 {
			delay = serverRetry
		} else {
			delay = bo.NextBackOff()
		}

		if bo.attempt <= 1 {
			l.log.Debug("eventsource_disconnected", "error", connectErr, "retry_in", delay.String())
		} else {
			l.log.Warn("eventsource_disconnected", "error", connectErr, "retry_in", delay.String(), "attempt", bo.attempt)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// countingBackOff wraps backoff.ExponentialBackOff to track the attempt
// number, used to decide whether a disconnect is logged at debug (first
// attempt) or warning (reconnect storm) level.
type countingBackOff struct {
	*backoff.ExponentialBackOff
	attempt int
}

func (b *countingBackOff) NextBackOff() time.Duration {
	b.attempt++
	d := b.ExponentialBackOff.NextBackOff()
	// Capped at 60s so a long outage still retries at a steady cadence
	// instead of backing off indefinitely.
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

func (b *countingBackOff) Reset() {
	b.attempt = 0
	b.ExponentialBackOff.Reset()
}

func newReconnectBackoff() *countingBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 1 * time.Second
	eb.Multiplier = 2
	eb.RandomizationFactor = 0 // plain doubling: 1s, 2s, 4s, ...
	eb.MaxInterval = 60 * time.Second
	eb.MaxElapsedTime = 0 // never give up
	return &countingBackOff{ExponentialBackOff: eb}
}

// runOnce dials the event source and streams lines until the connection
// ends. Returns the server-supplied retry hint (0 if none was sent),
// whether the connection was established at all (for backoff reset), and
// the error that ended the connection (nil on clean shutdown).
func (l *Listener) runOnce(parent context.Context) (serverRetryMs time.Duration, connected bool, err error) {
	url := fmt.Sprintf("%s?types=Email,Mailbox&closeafter=no&ping=%d", l.url, int(pingInterval.Seconds()))

	// The request's context also governs the body read, so the 30s connect
	// limit is a timer stopped once the response headers arrive.
	connectCtx, cancelConnect := context.WithCancel(parent)
	defer cancelConnect()
	connectTimer := time.AfterFunc(30*time.Second, cancelConnect)

	req, err := http.NewRequestWithContext(connectCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, false, fmt.Errorf("eventsource: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+l.token)
	req.Header.Set("Accept", "text/event-stream")

	client := &http.Client{}

	resp, err := client.Do(req)
	connectTimer.Stop()
	if err != nil {
		return 0, false, fmt.Errorf("eventsource: connecting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, false, fmt.Errorf("eventsource: connect returned status %d", resp.StatusCode)
	}

	l.health.MarkSSEConnected(time.Now())
	l.log.Info("eventsource_connected")

	// The connection succeeded; drop the 30s connect deadline and instead
	// enforce the read-stall timeout via a cancelable child context plus a
	// watchdog that resets on every line read. A read timeout can't be
	// expressed as a plain per-Read deadline here since resp.Body doesn't
	// expose one through the http.Client transport.
	streamCtx, cancelStream := context.WithCancel(parent)
	defer cancelStream()

	watchdog := newReadWatchdog(streamCtx, cancelStream, readTimeout)
	defer watchdog.stop()

	go func() {
		<-streamCtx.Done()
		resp.Body.Close()
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if parent.Err() != nil {
			return 0, true, nil
		}

		if !scanner.Scan() {
			if watchdog.timedOut() {
				return serverRetryMs, true, fmt.Errorf("eventsource: no data received for %s", readTimeout)
			}
			if err := scanner.Err(); err != nil {
				return serverRetryMs, true, fmt.Errorf("eventsource: stream read: %w", err)
			}
			return serverRetryMs, true, fmt.Errorf("eventsource: stream closed by server")
		}
		watchdog.reset()

		line := scanner.Text()
		l.handleLine(line, &serverRetryMs)
	}
}

// readWatchdog cancels a context if no read activity is observed for the
// given timeout, turning a silent stall into a detectable disconnection.
type readWatchdog struct {
	resetCh chan struct{}
	doneCh  chan struct{}
	reached chan struct{}
}

func newReadWatchdog(ctx context.Context, cancel context.CancelFunc, timeout time.Duration) *readWatchdog {
	w := &readWatchdog{
		resetCh: make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
		reached: make(chan struct{}, 1),
	}

	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.doneCh:
				return
			case <-w.resetCh:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(timeout)
			case <-timer.C:
				select {
				case w.reached <- struct{}{}:
				default:
				}
				cancel()
				return
			}
		}
	}()
	return w
}

// reset signals that a line was just read, pushing the stall deadline out.
func (w *readWatchdog) reset() {
	select {
	case w.resetCh <- struct{}{}:
	default:
	}
}

// stop tears down the watchdog goroutine; safe to call more than once.
func (w *readWatchdog) stop() {
	select {
	case <-w.doneCh:
	default:
		close(w.doneCh)
	}
}

// timedOut reports whether the watchdog, rather than a genuine stream
// error, is what ended the connection.
func (w *readWatchdog) timedOut() bool {
	select {
	case <-w.reached:
		return true
	default:
		return false
	}
}

func (l *Listener) handleLine(line string, serverRetryMs *time.Duration) {
	switch {
	case line == "" || strings.HasPrefix(line, ":"):
		// blank line (event boundary) or comment/keepalive -- ignore.
		return
	case strings.HasPrefix(line, "event: state") || strings.HasPrefix(line, "event:state"):
		l.health.MarkSSEEvent(time.Now())
		select {
		case l.tokens <- struct{}{}:
		default:
			// Channel full: a burst already queued plenty of wakeups: the
			// dispatcher will drain and coalesce them on its next cycle.
		}
	case strings.HasPrefix(line, "retry:"):
		raw := strings.TrimSpace(strings.TrimPrefix(line, "retry:"))
		if ms, err := strconv.Atoi(raw); err == nil {
			*serverRetryMs = time.Duration(ms) * time.Millisecond
		}
	}
}
