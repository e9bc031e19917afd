package mailapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const queryPageSize = 100

type emailQueryResult struct {
	IDs      []string `json:"ids"`
	Total    int      `json:"total"`
	Position int      `json:"position"`
}

// QueryEmails returns every message ID currently in mailboxID, optionally
// filtered to a single sender address, paginating under the hood. Order is
// unspecified but stable within one call.
func (c *Client) QueryEmails(ctx context.Context, mailboxID string, sender string) ([]string, error) {
	filter := map[string]any{"inMailbox": mailboxID}
	if sender != "" {
		filter["from"] = sender
	}

	var ids []string
	position := 0
	for {
		resp, err := c.Call(ctx, methodCall{"Email/query", map[string]any{
			"accountId": c.accountID,
			"filter":    filter,
			"position":  position,
			"limit":     queryPageSize,
		}, newCallID("Email/query", position)})
		if err != nil {
			return nil, err
		}
		if len(resp) == 0 {
			return nil, fmt.Errorf("mailapi: Email/query returned no response")
		}

		var result emailQueryResult
		if err := json.Unmarshal(resp[0].Result, &result); err != nil {
			return nil, fmt.Errorf("mailapi: decoding Email/query result: %w", err)
		}

		ids = append(ids, result.IDs...)
		if len(ids) >= result.Total || len(result.IDs) == 0 {
			break
		}
		position += len(result.IDs)
	}

	return ids, nil
}

// Sender is the first From-header address of a message, with an optional
// display name.
type Sender struct {
	Email       string
	DisplayName string // empty when absent or whitespace-only
}

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type emailGetResultSenders struct {
	List []struct {
		ID   string         `json:"id"`
		From []emailAddress `json:"from"`
	} `json:"list"`
}

// GetSenders extracts the first From address of each message. Messages
// with no From header are simply absent from the result map; callers log
// and skip them.
func (c *Client) GetSenders(ctx context.Context, messageIDs []string) (map[string]Sender, error) {
	if len(messageIDs) == 0 {
		return map[string]Sender{}, nil
	}

	resp, err := c.Call(ctx, methodCall{"Email/get", map[string]any{
		"accountId":  c.accountID,
		"ids":        messageIDs,
		"properties": []string{"id", "from"},
	}, newCallID("Email/get", 0)})
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("mailapi: Email/get returned no response")
	}

	var result emailGetResultSenders
	if err := json.Unmarshal(resp[0].Result, &result); err != nil {
		return nil, fmt.Errorf("mailapi: decoding Email/get result: %w", err)
	}

	senders := make(map[string]Sender, len(result.List))
	for _, m := range result.List {
		if len(m.From) == 0 {
			continue
		}
		from := m.From[0]
		name := strings.TrimSpace(from.Name)
		senders[m.ID] = Sender{Email: from.Email, DisplayName: name}
	}
	return senders, nil
}

type emailMailboxIDsResult struct {
	List []struct {
		ID         string          `json:"id"`
		MailboxIDs map[string]bool `json:"mailboxIds"`
	} `json:"list"`
}

// GetMailboxIDs returns the current mailboxIds set for each message, used
// to detect messages that already carry the error label.
func (c *Client) GetMailboxIDs(ctx context.Context, messageIDs []string) (map[string]map[string]bool, error) {
	if len(messageIDs) == 0 {
		return map[string]map[string]bool{}, nil
	}

	resp, err := c.Call(ctx, methodCall{"Email/get", map[string]any{
		"accountId":  c.accountID,
		"ids":        messageIDs,
		"properties": []string{"id", "mailboxIds"},
	}, newCallID("Email/get", 1)})
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("mailapi: Email/get returned no response")
	}

	var result emailMailboxIDsResult
	if err := json.Unmarshal(resp[0].Result, &result); err != nil {
		return nil, fmt.Errorf("mailapi: decoding Email/get result: %w", err)
	}

	out := make(map[string]map[string]bool, len(result.List))
	for _, m := range result.List {
		out[m.ID] = m.MailboxIDs
	}
	return out, nil
}

// RemoveLabel removes a single mailbox membership from a message, leaving
// every other mailbox membership untouched.
func (c *Client) RemoveLabel(ctx context.Context, messageID, mailboxID string) error {
	patch := map[string]any{
		fmt.Sprintf("mailboxIds/%s", mailboxID): nil,
	}

	resp, err := c.Call(ctx, methodCall{"Email/set", map[string]any{
		"accountId": c.accountID,
		"update": map[string]any{
			messageID: patch,
		},
	}, newCallID("Email/set", 0)})
	if err != nil {
		return err
	}
	return decodeSetErrors("Email/set", resp, messageID)
}

// AddLabel adds a single mailbox membership to a message, leaving every
// other mailbox membership untouched.
func (c *Client) AddLabel(ctx context.Context, messageID, mailboxID string) error {
	patch := map[string]any{
		fmt.Sprintf("mailboxIds/%s", mailboxID): true,
	}

	resp, err := c.Call(ctx, methodCall{"Email/set", map[string]any{
		"accountId": c.accountID,
		"update": map[string]any{
			messageID: patch,
		},
	}, newCallID("Email/set", 1)})
	if err != nil {
		return err
	}
	return decodeSetErrors("Email/set", resp, messageID)
}

const batchSize = 100

// BatchMoveEmails atomically removes one mailbox membership and adds one
// or more, for every message, chunked into batches of at most 100 per
// request. If any sub-update is rejected the offending IDs and reasons are
// returned via SetError.
func (c *Client) BatchMoveEmails(ctx context.Context, messageIDs []string, removeID string, addIDs []string) error {
	for start := 0; start < len(messageIDs); start += batchSize {
		end := start + batchSize
		if end > len(messageIDs) {
			end = len(messageIDs)
		}
		chunk := messageIDs[start:end]

		update := make(map[string]any, len(chunk))
		for _, id := range chunk {
			patch := map[string]any{
				fmt.Sprintf("mailboxIds/%s", removeID): nil,
			}
			for _, addID := range addIDs {
				patch[fmt.Sprintf("mailboxIds/%s", addID)] = true
			}
			update[id] = patch
		}

		resp, err := c.Call(ctx, methodCall{"Email/set", map[string]any{
			"accountId": c.accountID,
			"update":    update,
		}, newCallID("Email/set", start)})
		if err != nil {
			return err
		}
		if err := decodeSetErrors("Email/set", resp, chunk...); err != nil {
			return err
		}
	}
	return nil
}

// decodeSetErrors decodes an Email/set or Mailbox/set response and, if its
// notUpdated map has any entry, returns a SetError naming every failure.
// ids lists the objects the request updated; it is not consulted.
func decodeSetErrors(method string, resp []MethodResponse, ids ...string) error {
	if len(resp) == 0 {
		return fmt.Errorf("mailapi: %s returned no response", method)
	}

	var result setResponse
	if err := json.Unmarshal(resp[0].Result, &result); err != nil {
		return fmt.Errorf("mailapi: decoding %s result: %w", method, err)
	}

	if len(result.NotUpdated) == 0 {
		return nil
	}

	failed := make(map[string]string, len(result.NotUpdated))
	for id, detail := range result.NotUpdated {
		failed[id] = detail.String()
	}
	return &SetError{Method: method, Failed: failed}
}
