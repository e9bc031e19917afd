package mailapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type jmapMailbox struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ParentID *string `json:"parentId"`
	Role     *string `json:"role"`
}

type mailboxGetResult struct {
	List []jmapMailbox `json:"list"`
}

// listMailboxes fetches every mailbox in the account via Mailbox/get with
// ids: null.
func (c *Client) listMailboxes(ctx context.Context) ([]jmapMailbox, error) {
	resp, err := c.Call(ctx, methodCall{"Mailbox/get", map[string]any{
		"accountId": c.accountID,
		"ids":       nil,
	}, newCallID("Mailbox/get", 0)})
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("mailapi: Mailbox/get returned no response")
	}

	var result mailboxGetResult
	if err := json.Unmarshal(resp[0].Result, &result); err != nil {
		return nil, fmt.Errorf("mailapi: decoding Mailbox/get result: %w", err)
	}
	return result.List, nil
}

// ResolveMailboxes fetches all mailboxes once and resolves the requested
// names to IDs. "Inbox" always resolves by the server's role tag, never by
// name, to avoid collision with a user-created folder of the same name.
// For other names, a top-level mailbox is preferred when duplicates exist
// at different hierarchy levels. Returns an error naming every unresolved
// name if any are missing.
func (c *Client) ResolveMailboxes(ctx context.Context, names []string) (map[string]string, error) {
	all, err := c.listMailboxes(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]jmapMailbox, len(all))
	for _, mb := range all {
		byID[mb.ID] = mb
	}

	resolved := make(map[string]string, len(names))
	var inboxID string
	for _, mb := range all {
		if mb.Role != nil && *mb.Role == "inbox" {
			inboxID = mb.ID
			break
		}
	}

	candidatesByName := make(map[string][]jmapMailbox)
	for _, mb := range all {
		candidatesByName[mb.Name] = append(candidatesByName[mb.Name], mb)
	}

	var missing []string
	for _, name := range names {
		if name == "Inbox" {
			if inboxID == "" {
				missing = append(missing, name)
				continue
			}
			resolved[name] = inboxID
			continue
		}

		candidates := candidatesByName[name]
		if len(candidates) == 0 {
			missing = append(missing, name)
			continue
		}

		resolved[name] = pickPreferred(candidates).ID
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("mailapi: required mailboxes not found: %s", strings.Join(missing, ", "))
	}

	return resolved, nil
}

// ExistingMailboxNames returns the set of every mailbox name currently in
// the account, for the setup subcommand's plan/diff. The role-tagged
// inbox is always also recorded under the canonical name "Inbox",
// regardless of its actual display name.
func (c *Client) ExistingMailboxNames(ctx context.Context) (map[string]bool, error) {
	all, err := c.listMailboxes(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(all))
	for _, mb := range all {
		if mb.Role != nil && *mb.Role == "inbox" {
			names["Inbox"] = true
		}
		names[mb.Name] = true
	}
	return names, nil
}

// pickPreferred returns the top-level (parentId == nil) candidate if one
// exists among duplicates, otherwise the first candidate.
func pickPreferred(candidates []jmapMailbox) jmapMailbox {
	for _, c := range candidates {
		if c.ParentID == nil {
			return c
		}
	}
	return candidates[0]
}

type mailboxSetResult struct {
	Created map[string]jmapMailbox    `json:"created"`
	NotCreated map[string]setErrorDetail `json:"notCreated"`
}

// CreateMailbox creates a new mailbox, optionally nested under parentID.
// Used only by the setup subcommand, never by the poll loop.
func (c *Client) CreateMailbox(ctx context.Context, name string, parentID string) (string, error) {
	args := map[string]any{
		"accountId": c.accountID,
		"create": map[string]any{
			"new": map[string]any{
				"name": name,
			},
		},
	}
	create := args["create"].(map[string]any)["new"].(map[string]any)
	if parentID != "" {
		create["parentId"] = parentID
	}

	resp, err := c.Call(ctx, methodCall{"Mailbox/set", args, newCallID("Mailbox/set", 0)})
	if err != nil {
		return "", err
	}
	if len(resp) == 0 {
		return "", fmt.Errorf("mailapi: Mailbox/set returned no response")
	}

	var result mailboxSetResult
	if err := json.Unmarshal(resp[0].Result, &result); err != nil {
		return "", fmt.Errorf("mailapi: decoding Mailbox/set result: %w", err)
	}

	if mb, ok := result.Created["new"]; ok {
		return mb.ID, nil
	}

	if detail, ok := result.NotCreated["new"]; ok {
		return "", &SetError{Method: "Mailbox/set", Failed: map[string]string{"new": detail.String()}}
	}
	return "", fmt.Errorf("mailapi: Mailbox/set for %q returned neither created nor notCreated", name)
}
