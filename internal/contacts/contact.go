package contacts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-vcard"

	"github.com/ignite/mailroom/internal/config"
)

// UpsertResult reports what UpsertContact did: whether a card was created
// or already existed, its UID, the group it ended up in, and whether the
// provided display name conflicted with an existing non-empty FN.
type UpsertResult struct {
	Action       string // "created" or "existing"
	UID          string
	Group        string
	NameMismatch bool
}

// CreateContact creates a new contact card and returns its href, etag and
// encoded vCard bytes (the UID is carried inside those bytes).
// Upload uses create-if-absent semantics (If-None-Match: *).
func (c *Client) CreateContact(ctx context.Context, email, displayName string, contactType config.ContactType) (Card, error) {
	card := newContactCard(email, displayName, contactType, time.Now())
	uid := cardUID(card)
	url := c.resourceURL(uid)

	etag, err := c.putCard(ctx, url, card, putOptions{ifNoneExists: true})
	if err != nil {
		return Card{}, fmt.Errorf("contacts: creating contact for %s: %w", email, err)
	}

	data, err := encodeVCard(card)
	if err != nil {
		return Card{}, err
	}

	return Card{Href: strings.TrimPrefix(url, c.baseURL()), ETag: etag, Data: data}, nil
}

// CheckMembership returns the name of some group containing uid other
// than excludeGroup, or "" if none. Used for the already-grouped check
// that must run before a contact is ever upserted into a new group.
func (c *Client) CheckMembership(ctx context.Context, uid, excludeGroup string) (string, error) {
	cards, err := c.allCards(ctx)
	if err != nil {
		return "", err
	}

	for _, raw := range cards {
		card, err := decodeVCard(raw.Data)
		if err != nil {
			continue
		}
		if !isGroupCard(card) {
			continue
		}
		name := card.Value("FN")
		if name == excludeGroup {
			continue
		}
		if hasMember(card, uid) {
			return name, nil
		}
	}
	return "", nil
}

// UpsertContact orchestrates: search by email; create a new card if
// absent; otherwise merge-cautiously update the existing card (add the
// email if missing, fill an empty FN, append a Mailroom note) and add it
// to the group either way.
func (c *Client) UpsertContact(ctx context.Context, email, displayName, groupName string, contactType config.ContactType) (UpsertResult, error) {
	hits, err := c.SearchByEmail(ctx, email)
	if err != nil {
		return UpsertResult{}, err
	}

	if len(hits) == 0 {
		created, err := c.CreateContact(ctx, email, displayName, contactType)
		if err != nil {
			return UpsertResult{}, err
		}
		uid := cardUIDFromBytes(created.Data)
		if _, err := c.AddToGroup(ctx, groupName, uid); err != nil {
			return UpsertResult{}, fmt.Errorf("contacts: adding new contact %s to group %s: %w", email, groupName, err)
		}
		return UpsertResult{Action: "created", UID: uid, Group: groupName}, nil
	}

	raw := hits[0]
	card, err := decodeVCard(raw.Data)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("contacts: decoding existing card for %s: %w", email, err)
	}

	existingFN := card.Value(vcard.FieldFormattedName)
	nameMismatch := existingFN != "" && displayName != "" && existingFN != displayName

	changed := false
	if !hasEmail(card, email) {
		card.Add(vcard.FieldEmail, &vcard.Field{Value: email, Params: vcard.Params{vcard.ParamType: []string{"INTERNET"}}})
		changed = true
	}
	if existingFN == "" && displayName != "" {
		card.Set(vcard.FieldFormattedName, &vcard.Field{Value: displayName})
		changed = true
	}
	if card.Value(vcard.FieldNote) == "" {
		card.Set(vcard.FieldNote, &vcard.Field{Value: addedNote(time.Now())})
		changed = true
	} else {
		card.Set(vcard.FieldNote, &vcard.Field{Value: card.Value(vcard.FieldNote) + "\n" + updatedNote(time.Now())})
		changed = true
	}

	uid := cardUID(card)
	if changed {
		if _, err := c.putCard(ctx, c.baseURL()+raw.Href, card, putOptions{ifMatch: raw.ETag}); err != nil {
			return UpsertResult{}, fmt.Errorf("contacts: updating existing card for %s: %w", email, err)
		}
	}

	if _, err := c.AddToGroup(ctx, groupName, uid); err != nil {
		return UpsertResult{}, fmt.Errorf("contacts: adding existing contact %s to group %s: %w", email, groupName, err)
	}

	return UpsertResult{Action: "existing", UID: uid, Group: groupName, NameMismatch: nameMismatch}, nil
}

// cardUIDFromBytes decodes just enough of a freshly-encoded card to pull
// its UID back out, avoiding a round trip to the server right after
// CreateContact built it locally.
func cardUIDFromBytes(data []byte) string {
	card, err := decodeVCard(data)
	if err != nil {
		return ""
	}
	return cardUID(card)
}
