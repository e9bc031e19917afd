// Package dispatch implements the debounced main-loop scheduling that
// coalesces bursts of push notifications into a single downstream trigger
// while guaranteeing a fallback cadence when nothing pushes at all.
package dispatch

import (
	"context"
	"time"

	"github.com/ignite/mailroom/internal/pkg/logger"
)

// Config controls the loop's timing.
type Config struct {
	PollInterval time.Duration
	Debounce     time.Duration
}

// Loop blocks until ctx is canceled, invoking onTrigger once per cycle.
// Each cycle either:
//   - waits up to PollInterval for a token on tokens; on arrival, debounces
//     for Debounce seconds, draining (and counting) any further tokens that
//     arrive during the window, then fires with trigger="push", or
//   - times out with no token and fires with trigger="fallback".
//
// onTrigger errors are the caller's concern: Loop does not retry or log
// them itself. A non-nil error from onTrigger ends the loop and is
// returned unchanged; ctx cancellation ends it with ctx.Err().
func Loop(ctx context.Context, tokens <-chan struct{}, cfg Config, onTrigger func(ctx context.Context, reason string) error) error {
	log := logger.New().With("component", "dispatch")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		trigger, collapsed := waitForTrigger(ctx, tokens, cfg)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if trigger == "push" {
			log.Debug("debounce_collapsed", "events_collapsed", collapsed)
		}

		if err := onTrigger(ctx, trigger); err != nil {
			return err
		}
	}
}

// waitForTrigger implements one cycle's wait: block for a token up to
// PollInterval, then on arrival debounce-drain for Debounce seconds.
// Returns the trigger reason and how many tokens (including the
// triggering one) were collapsed into this cycle.
func waitForTrigger(ctx context.Context, tokens <-chan struct{}, cfg Config) (reason string, collapsed int) {
	select {
	case <-ctx.Done():
		return "fallback", 0
	case <-tokens:
		// Count the triggering token itself, so a 5-token burst reports
		// collapsed=5, not 4.
		collapsed = 1
	case <-time.After(cfg.PollInterval):
		return "fallback", 0
	}

	deadline := time.After(cfg.Debounce)
	for {
		select {
		case <-ctx.Done():
			return "push", collapsed
		case <-tokens:
			collapsed++
		case <-deadline:
			return "push", collapsed
		}
	}
}
