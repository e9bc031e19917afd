// Package setup implements the dry-run/apply resource reconciliation
// behind the "mailroom setup" subcommand: diffing required mailboxes,
// action labels, and contact groups against what already exists, then
// optionally creating what's missing.
package setup

import (
	"context"

	"github.com/ignite/mailroom/internal/config"
)

// ResourceAction is a single resource to provision, with its current
// status. Kind is one of "mailbox", "label", "contact_group"; Status is
// one of "exists", "create" (dry-run), "created", "failed", "skipped".
type ResourceAction struct {
	Kind   string
	Name   string
	Status string
	Parent string
	Error  string
}

// mailboxLister is the slice of mailapi.Client Plan needs.
type mailboxLister interface {
	ExistingMailboxNames(ctx context.Context) (map[string]bool, error)
}

// groupLister is the slice of contacts.Client Plan needs.
type groupLister interface {
	ListGroups(ctx context.Context) ([]string, error)
}

// Plan fetches existing mailboxes and contact groups and diffs them
// against the configuration's required set, returning one ResourceAction
// per required resource.
func Plan(ctx context.Context, cfg *config.Config, mail mailboxLister, contactStore groupLister) ([]ResourceAction, error) {
	existingMailboxes, err := mail.ExistingMailboxNames(ctx)
	if err != nil {
		return nil, err
	}

	existingGroupList, err := contactStore.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	existingGroups := make(map[string]bool, len(existingGroupList))
	for _, g := range existingGroupList {
		existingGroups[g] = true
	}

	triageLabels := make(map[string]bool)
	for _, label := range cfg.TriageLabels() {
		triageLabels[label] = true
	}

	var actions []ResourceAction

	for _, name := range cfg.RequiredMailboxes() {
		if triageLabels[name] {
			continue
		}
		actions = append(actions, ResourceAction{Kind: "mailbox", Name: name, Status: statusOf(existingMailboxes[name])})
	}

	for _, label := range cfg.TriageLabels() {
		actions = append(actions, ResourceAction{Kind: "label", Name: label, Status: statusOf(existingMailboxes[label])})
	}

	for _, group := range cfg.ContactGroups() {
		actions = append(actions, ResourceAction{Kind: "contact_group", Name: group, Status: statusOf(existingGroups[group])})
	}

	return actions, nil
}

func statusOf(exists bool) string {
	if exists {
		return "exists"
	}
	return "create"
}
