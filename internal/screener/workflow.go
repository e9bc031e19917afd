// Package screener implements the triage workflow: reading mail filed
// under action labels, matching senders against the contact store, and
// moving their backlog out of the screener mailbox into the right
// destination.
package screener

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/mailroom/internal/config"
	"github.com/ignite/mailroom/internal/contacts"
	"github.com/ignite/mailroom/internal/mailapi"
	"github.com/ignite/mailroom/internal/pkg/logger"
)

// messageRef is one collected message: its ID and the action label it was
// found under.
type messageRef struct {
	ID    string
	Label string
}

// senderEntry accumulates everything collected for one sender across all
// action labels during a single Poll cycle.
type senderEntry struct {
	DisplayName string
	Messages    []messageRef
}

// mailClient is the slice of mailapi.Client that the workflow needs. A
// narrow interface (rather than the concrete client) so tests can swap in
// a fake without standing up an HTTP server.
type mailClient interface {
	QueryEmails(ctx context.Context, mailboxID, sender string) ([]string, error)
	GetSenders(ctx context.Context, messageIDs []string) (map[string]mailapi.Sender, error)
	GetMailboxIDs(ctx context.Context, messageIDs []string) (map[string]map[string]bool, error)
	RemoveLabel(ctx context.Context, messageID, mailboxID string) error
	AddLabel(ctx context.Context, messageID, mailboxID string) error
	BatchMoveEmails(ctx context.Context, messageIDs []string, removeID string, addIDs []string) error
}

// contactStore is the slice of contacts.Client that the workflow needs.
type contactStore interface {
	SearchByEmail(ctx context.Context, email string) ([]contacts.Card, error)
	CheckMembership(ctx context.Context, uid, excludeGroup string) (string, error)
	UpsertContact(ctx context.Context, email, displayName, groupName string, contactType config.ContactType) (contacts.UpsertResult, error)
}

// Workflow runs one triage cycle at a time against a mail account and its
// paired contact store.
type Workflow struct {
	mail       mailClient
	contacts   contactStore
	cfg        *config.Config
	mailboxIDs map[string]string // mailbox/label name -> id
	log        *logger.Logger
}

// New returns a Workflow. mailboxIDs must map every name in
// cfg.RequiredMailboxes() to its resolved mailbox ID.
func New(mail *mailapi.Client, contactStore *contacts.Client, cfg *config.Config, mailboxIDs map[string]string) *Workflow {
	return &Workflow{
		mail:       mail,
		contacts:   contactStore,
		cfg:        cfg,
		mailboxIDs: mailboxIDs,
		log:        logger.New().With("component", "screener"),
	}
}

// errAlreadyGroupedElsewhere signals that step 5(a) found an existing
// contact belonging to a different group: the sender's triggering messages
// were error-labeled, and the sender stops here. Not a failure.
var errAlreadyGroupedElsewhere = errors.New("screener: contact already grouped elsewhere")

// Poll runs one full triage cycle: collect, filter already-errored
// messages, split clean senders from conflicted ones, mark conflicts, and
// process each clean sender through its own try-boundary. Returns the
// count of senders successfully processed. Must never be invoked
// concurrently with itself.
func (w *Workflow) Poll(ctx context.Context) (int, error) {
	bySender, err := w.collect(ctx)
	if err != nil {
		return 0, fmt.Errorf("screener: collect: %w", err)
	}

	bySender, err = w.filterErrored(ctx, bySender)
	if err != nil {
		return 0, fmt.Errorf("screener: filter already-errored: %w", err)
	}

	clean, conflicted := splitConflicts(bySender)
	w.markConflicted(ctx, conflicted)

	processed := 0
	for sender, entry := range clean {
		if err := w.processSender(ctx, sender, entry); err != nil {
			if errors.Is(err, errAlreadyGroupedElsewhere) {
				w.log.Info("sender_already_grouped_elsewhere", "sender", sender)
			} else {
				w.log.Warn("sender_processing_failed", "sender", sender, "error", err.Error())
			}
			continue
		}
		processed++
	}

	return processed, nil
}

// collect implements step 1: for every configured action label, query its
// mailbox, resolve senders in batch, and build the per-sender message map.
func (w *Workflow) collect(ctx context.Context) (map[string]*senderEntry, error) {
	bySender := make(map[string]*senderEntry)

	labels := make(map[string]bool, len(w.cfg.Resolved))
	for _, c := range w.cfg.Resolved {
		labels[c.Label] = true
	}

	for label := range labels {
		mailboxID, ok := w.mailboxIDs[label]
		if !ok {
			return nil, fmt.Errorf("no mailbox id resolved for label %q", label)
		}

		ids, err := w.mail.QueryEmails(ctx, mailboxID, "")
		if err != nil {
			return nil, fmt.Errorf("querying label %q: %w", label, err)
		}
		if len(ids) == 0 {
			continue
		}

		senders, err := w.mail.GetSenders(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolving senders for label %q: %w", label, err)
		}

		for _, id := range ids {
			s, ok := senders[id]
			if !ok {
				w.log.Warn("message_missing_from_header", "message_id", id, "label", label)
				continue
			}

			entry, ok := bySender[s.Email]
			if !ok {
				entry = &senderEntry{}
				bySender[s.Email] = entry
			}
			if entry.DisplayName == "" && s.DisplayName != "" {
				entry.DisplayName = s.DisplayName
			}
			entry.Messages = append(entry.Messages, messageRef{ID: id, Label: label})
		}
	}

	return bySender, nil
}

// filterErrored implements step 2: drop any message that already carries
// the error label, and drop any sender left with no messages at all.
func (w *Workflow) filterErrored(ctx context.Context, bySender map[string]*senderEntry) (map[string]*senderEntry, error) {
	if len(bySender) == 0 {
		return bySender, nil
	}

	errorMailboxID, ok := w.mailboxIDs[w.cfg.Labels.MailroomError]
	if !ok {
		return nil, fmt.Errorf("no mailbox id resolved for error label %q", w.cfg.Labels.MailroomError)
	}

	var allIDs []string
	for _, entry := range bySender {
		for _, m := range entry.Messages {
			allIDs = append(allIDs, m.ID)
		}
	}

	mailboxIDsByMessage, err := w.mail.GetMailboxIDs(ctx, allIDs)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*senderEntry, len(bySender))
	for sender, entry := range bySender {
		kept := entry.Messages[:0:0]
		for _, m := range entry.Messages {
			if mailboxIDsByMessage[m.ID][errorMailboxID] {
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			continue
		}
		out[sender] = &senderEntry{DisplayName: entry.DisplayName, Messages: kept}
	}
	return out, nil
}

// splitConflicts implements step 3: a sender whose remaining messages
// carry more than one distinct action label is conflicted; everyone else
// is clean.
func splitConflicts(bySender map[string]*senderEntry) (clean, conflicted map[string]*senderEntry) {
	clean = make(map[string]*senderEntry)
	conflicted = make(map[string]*senderEntry)

	for sender, entry := range bySender {
		labels := make(map[string]bool)
		for _, m := range entry.Messages {
			labels[m.Label] = true
		}
		if len(labels) > 1 {
			conflicted[sender] = entry
		} else {
			clean[sender] = entry
		}
	}
	return clean, conflicted
}

// markConflicted implements step 4: add the error label to every
// conflicted sender's messages, leaving the action labels in place as
// forensics. Failures here are logged and swallowed -- the cycle
// continues regardless.
func (w *Workflow) markConflicted(ctx context.Context, conflicted map[string]*senderEntry) {
	if len(conflicted) == 0 {
		return
	}

	errorMailboxID, ok := w.mailboxIDs[w.cfg.Labels.MailroomError]
	if !ok {
		w.log.Warn("mark_conflicted_skipped", "reason", "no mailbox id for error label")
		return
	}

	for sender, entry := range conflicted {
		labels := make(map[string]bool)
		for _, m := range entry.Messages {
			labels[m.Label] = true
		}
		w.log.Warn("sender_conflicted", "sender", sender, "label_count", len(labels))

		for _, m := range entry.Messages {
			if err := w.mail.AddLabel(ctx, m.ID, errorMailboxID); err != nil {
				w.log.Warn("mark_conflicted_failed", "sender", sender, "message_id", m.ID, "error", err.Error())
			}
		}
	}
}
