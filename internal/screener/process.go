package screener

import (
	"context"
	"fmt"

	"github.com/ignite/mailroom/internal/contacts"
)

// processSender runs step 5's ordered sub-steps for one clean sender.
// Any error aborts processing for this sender only; the caller logs it
// and leaves every action label intact so the sender retries next cycle.
func (w *Workflow) processSender(ctx context.Context, sender string, entry *senderEntry) error {
	label := entry.Messages[0].Label
	category, ok := w.cfg.CategoryByLabel(label)
	if !ok {
		return fmt.Errorf("no category resolved for label %q", label)
	}

	messageIDs := make([]string, len(entry.Messages))
	for i, m := range entry.Messages {
		messageIDs[i] = m.ID
	}

	if err := w.checkAlreadyGrouped(ctx, sender, category.ContactGroup, messageIDs); err != nil {
		return err
	}

	result, err := w.contacts.UpsertContact(ctx, sender, entry.DisplayName, category.ContactGroup, category.ContactType)
	if err != nil {
		return fmt.Errorf("upserting contact: %w", err)
	}

	w.warnNameMismatch(ctx, sender, result, messageIDs)

	if err := w.sweep(ctx, sender, category.DestinationMailbox); err != nil {
		return fmt.Errorf("sweeping screener mailbox: %w", err)
	}

	labelMailboxID, ok := w.mailboxIDs[label]
	if !ok {
		return fmt.Errorf("no mailbox id resolved for label %q", label)
	}
	for _, id := range messageIDs {
		if err := w.mail.RemoveLabel(ctx, id, labelMailboxID); err != nil {
			return fmt.Errorf("removing action label: %w", err)
		}
	}

	return nil
}

// checkAlreadyGrouped implements step 5(a): a contact already belonging to
// some other group is an error, not a thing to re-file quietly.
func (w *Workflow) checkAlreadyGrouped(ctx context.Context, sender, targetGroup string, messageIDs []string) error {
	hits, err := w.contacts.SearchByEmail(ctx, sender)
	if err != nil {
		return fmt.Errorf("searching contact store: %w", err)
	}
	if len(hits) == 0 {
		return nil
	}

	uid, err := contacts.CardUID(hits[0])
	if err != nil {
		return fmt.Errorf("reading existing contact uid: %w", err)
	}

	group, err := w.contacts.CheckMembership(ctx, uid, targetGroup)
	if err != nil {
		return fmt.Errorf("checking group membership: %w", err)
	}
	if group == "" {
		return nil
	}

	errorMailboxID, ok := w.mailboxIDs[w.cfg.Labels.MailroomError]
	if !ok {
		return fmt.Errorf("no mailbox id resolved for error label %q", w.cfg.Labels.MailroomError)
	}
	for _, id := range messageIDs {
		if err := w.mail.AddLabel(ctx, id, errorMailboxID); err != nil {
			w.log.Warn("already_grouped_label_failed", "sender", sender, "message_id", id, "error", err.Error())
		}
	}
	return errAlreadyGroupedElsewhere
}

// warnNameMismatch implements step 5(c): best-effort, never blocks the
// rest of the pipeline.
func (w *Workflow) warnNameMismatch(ctx context.Context, sender string, result contacts.UpsertResult, messageIDs []string) {
	if !w.cfg.Labels.WarningsEnabled || !result.NameMismatch {
		return
	}

	warningMailboxID, ok := w.mailboxIDs[w.cfg.Labels.MailroomWarning]
	if !ok {
		w.log.Warn("name_mismatch_label_skipped", "sender", sender, "reason", "no mailbox id for warning label")
		return
	}

	for _, id := range messageIDs {
		if err := w.mail.AddLabel(ctx, id, warningMailboxID); err != nil {
			w.log.Warn("name_mismatch_label_failed", "sender", sender, "message_id", id, "error", err.Error())
		}
	}
}

// sweep implements step 5(d): move every message from this sender
// currently sitting in Screener into its destination mailbox.
func (w *Workflow) sweep(ctx context.Context, sender, destinationMailbox string) error {
	screenerMailboxID, ok := w.mailboxIDs[w.cfg.Triage.ScreenerMailbox]
	if !ok {
		return fmt.Errorf("no mailbox id resolved for screener mailbox %q", w.cfg.Triage.ScreenerMailbox)
	}
	destMailboxID, ok := w.mailboxIDs[destinationMailbox]
	if !ok {
		return fmt.Errorf("no mailbox id resolved for destination mailbox %q", destinationMailbox)
	}

	ids, err := w.mail.QueryEmails(ctx, screenerMailboxID, sender)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	return w.mail.BatchMoveEmails(ctx, ids, screenerMailboxID, []string{destMailboxID})
}
