package contacts

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ValidateGroups enumerates every card and filters for group-kind cards
// (the Apple X-ADDRESSBOOKSERVER-KIND marker), returning an error naming
// every required group name that has no matching card.
func (c *Client) ValidateGroups(ctx context.Context, required []string) error {
	cards, err := c.allCards(ctx)
	if err != nil {
		return err
	}

	existing := make(map[string]bool)
	for _, raw := range cards {
		card, err := decodeVCard(raw.Data)
		if err != nil {
			continue
		}
		if isGroupCard(card) {
			existing[card.Value("FN")] = true
		}
	}

	var missing []string
	for _, name := range required {
		if !existing[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("contacts: required contact groups not found: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ListGroups returns the names of every group-kind card, for the setup
// subcommand's plan/diff.
func (c *Client) ListGroups(ctx context.Context) ([]string, error) {
	cards, err := c.allCards(ctx)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, raw := range cards {
		card, err := decodeVCard(raw.Data)
		if err != nil {
			continue
		}
		if isGroupCard(card) {
			names = append(names, card.Value("FN"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// CreateGroup creates a new empty contact group. Used only by the setup
// subcommand.
func (c *Client) CreateGroup(ctx context.Context, name string) error {
	card := newGroupCard(name)
	_, err := c.putCard(ctx, c.resourceURL(cardUID(card)), card, putOptions{ifNoneExists: true})
	return err
}

const maxGroupRetries = 3

// findGroupByName fetches every card and returns the decoded group card
// whose FN matches, along with its href/etag.
func (c *Client) findGroupByName(ctx context.Context, name string) (Card, error) {
	cards, err := c.allCards(ctx)
	if err != nil {
		return Card{}, err
	}
	for _, raw := range cards {
		card, err := decodeVCard(raw.Data)
		if err != nil {
			continue
		}
		if isGroupCard(card) && card.Value("FN") == name {
			return raw, nil
		}
	}
	return Card{}, fmt.Errorf("contacts: contact group %q not found", name)
}

// AddToGroup adds uid as a member of the named group, guarded by
// If-Match on the group card's ETag. On a precondition failure the group
// card is refetched (picking up its new ETag) and the operation is
// retried, up to maxGroupRetries attempts. A UID already listed is a
// no-op that returns the current ETag.
func (c *Client) AddToGroup(ctx context.Context, groupName, uid string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxGroupRetries; attempt++ {
		raw, err := c.findGroupByName(ctx, groupName)
		if err != nil {
			return "", err
		}

		card, err := decodeVCard(raw.Data)
		if err != nil {
			return "", fmt.Errorf("contacts: decoding group card %s: %w", groupName, err)
		}

		if hasMember(card, uid) {
			return raw.ETag, nil
		}

		addMember(card, uid)

		etag, err := c.putCard(ctx, c.baseURL()+raw.Href, card, putOptions{ifMatch: raw.ETag})
		if err == nil {
			return etag, nil
		}
		if err != ErrPreconditionFailed {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("contacts: adding %s to group %s: %w after %d attempts", uid, groupName, lastErr, maxGroupRetries)
}
