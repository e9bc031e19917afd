// Package supervisor wires the mail client, contact client, dispatch
// loop, SSE listener, and health server into the long-running service,
// and enforces the consecutive-failure crash threshold.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/mailroom/internal/config"
	"github.com/ignite/mailroom/internal/contacts"
	"github.com/ignite/mailroom/internal/dispatch"
	"github.com/ignite/mailroom/internal/eventsource"
	"github.com/ignite/mailroom/internal/health"
	"github.com/ignite/mailroom/internal/mailapi"
	"github.com/ignite/mailroom/internal/pkg/logger"
	"github.com/ignite/mailroom/internal/screener"
)

// maxConsecutiveFailures is the number of back-to-back failed cycles that
// triggers a crash, relying on an external process supervisor to restart
// cleanly rather than spinning forever against a broken dependency.
const maxConsecutiveFailures = 10

// Run performs the full startup sequence and then blocks running the main
// dispatch loop until ctx is canceled or the failure threshold is hit. A
// non-nil error return means the caller should exit non-zero.
func Run(ctx context.Context, cfg *config.Config) error {
	log := logger.New().With("component", "supervisor")
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	// Step 2: connect to the mail API.
	mail := mailapi.New(cfg.Auth.MailHostname(), cfg.Auth.JMAPToken)
	if err := mail.Connect(ctx); err != nil {
		return fmt.Errorf("supervisor: connecting to mail api: %w", err)
	}
	log.Info("mail_api_connected")

	// Step 3: connect to the contact store.
	contactStore := contacts.New(cfg.Auth.CardDAVHostname(), cfg.Auth.CardDAVUsername, cfg.Auth.CardDAVPassword)
	if err := contactStore.Connect(ctx); err != nil {
		return fmt.Errorf("supervisor: connecting to contact store: %w", err)
	}
	log.Info("contact_store_connected")

	// Step 4: resolve required mailboxes.
	mailboxIDs, err := mail.ResolveMailboxes(ctx, cfg.RequiredMailboxes())
	if err != nil {
		return fmt.Errorf("supervisor: resolving mailboxes: %w", err)
	}
	log.Info("mailboxes_resolved", "count", len(mailboxIDs))

	// Step 5: validate required contact groups.
	if err := contactStore.ValidateGroups(ctx, cfg.ContactGroups()); err != nil {
		return fmt.Errorf("supervisor: validating contact groups: %w", err)
	}
	log.Info("contact_groups_validated", "count", len(cfg.ContactGroups()))

	// Step 6: build the workflow.
	workflow := screener.New(mail, contactStore, cfg, mailboxIDs)

	// Step 7: start the health-endpoint server.
	state := health.New()
	healthSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.HealthPort()),
		Handler: health.Handler(state, cfg.Polling.Interval()),
	}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health_server_failed", "error", err.Error())
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthSrv.Shutdown(shutdownCtx)
	}()
	log.Info("health_server_started", "port", config.HealthPort())

	// Step 8: start the SSE listener, if the session advertised one.
	var tokens <-chan struct{}
	if eventSourceURL := mail.EventSourceURL(); eventSourceURL != "" {
		listener := eventsource.New(eventSourceURL, cfg.Auth.JMAPToken, state)
		go listener.Run(ctx)
		tokens = listener.Tokens()
		log.Info("eventsource_listener_started")
	} else {
		log.Warn("eventsource_not_advertised", "reason", "falling back to poll-only cadence")
		tokens = make(chan struct{})
	}

	failures := 0
	dispatchCfg := dispatch.Config{PollInterval: cfg.Polling.Interval(), Debounce: cfg.Polling.Debounce()}

	err = dispatch.Loop(ctx, tokens, dispatchCfg, func(cycleCtx context.Context, reason string) error {
		processed, pollErr := workflow.Poll(cycleCtx)
		if pollErr != nil {
			failures++
			log.Error("poll_failed", "reason", reason, "error", pollErr.Error(), "consecutive_failures", failures)
			if failures >= maxConsecutiveFailures {
				return fmt.Errorf("supervisor: %d consecutive poll failures: %w", failures, pollErr)
			}
			return nil
		}

		failures = 0
		state.MarkPollSuccess(time.Now())
		log.Info("poll_succeeded", "reason", reason, "senders_processed", processed)
		return nil
	})

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor: main loop stopped: %w", err)
	}
	return nil
}
