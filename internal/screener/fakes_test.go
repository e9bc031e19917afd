package screener

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/emersion/go-vcard"

	"github.com/ignite/mailroom/internal/config"
	"github.com/ignite/mailroom/internal/contacts"
	"github.com/ignite/mailroom/internal/mailapi"
)

// fakeMail is an in-memory stand-in for mailapi.Client good enough to
// exercise every screener code path without a real JMAP server.
type fakeMail struct {
	mu sync.Mutex

	// mailbox -> set of message IDs currently in it.
	membership map[string]map[string]bool
	senders    map[string]mailapi.Sender

	removeLabelCalls []labelCall
	addLabelCalls    []labelCall
	batchMoveCalls   []batchMoveCall
}

type labelCall struct {
	MessageID string
	MailboxID string
}

type batchMoveCall struct {
	MessageIDs []string
	RemoveID   string
	AddIDs     []string
}

func newFakeMail() *fakeMail {
	return &fakeMail{
		membership: make(map[string]map[string]bool),
		senders:    make(map[string]mailapi.Sender),
	}
}

func (f *fakeMail) put(messageID string, sender mailapi.Sender, mailboxIDs ...string) {
	f.senders[messageID] = sender
	if f.membership[messageID] == nil {
		f.membership[messageID] = make(map[string]bool)
	}
	for _, id := range mailboxIDs {
		f.membership[messageID][id] = true
	}
}

func (f *fakeMail) QueryEmails(_ context.Context, mailboxID, sender string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []string
	for id, boxes := range f.membership {
		if !boxes[mailboxID] {
			continue
		}
		if sender != "" && f.senders[id].Email != sender {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeMail) GetSenders(_ context.Context, messageIDs []string) (map[string]mailapi.Sender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]mailapi.Sender, len(messageIDs))
	for _, id := range messageIDs {
		if s, ok := f.senders[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (f *fakeMail) GetMailboxIDs(_ context.Context, messageIDs []string) (map[string]map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		copied := make(map[string]bool, len(f.membership[id]))
		for box := range f.membership[id] {
			copied[box] = true
		}
		out[id] = copied
	}
	return out, nil
}

func (f *fakeMail) RemoveLabel(_ context.Context, messageID, mailboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removeLabelCalls = append(f.removeLabelCalls, labelCall{messageID, mailboxID})
	delete(f.membership[messageID], mailboxID)
	return nil
}

func (f *fakeMail) AddLabel(_ context.Context, messageID, mailboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.addLabelCalls = append(f.addLabelCalls, labelCall{messageID, mailboxID})
	if f.membership[messageID] == nil {
		f.membership[messageID] = make(map[string]bool)
	}
	f.membership[messageID][mailboxID] = true
	return nil
}

func (f *fakeMail) BatchMoveEmails(_ context.Context, messageIDs []string, removeID string, addIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batchMoveCalls = append(f.batchMoveCalls, batchMoveCall{append([]string{}, messageIDs...), removeID, append([]string{}, addIDs...)})
	for _, id := range messageIDs {
		delete(f.membership[id], removeID)
		for _, add := range addIDs {
			f.membership[id][add] = true
		}
	}
	return nil
}

// fakeContacts is an in-memory stand-in for contacts.Client.
type fakeContacts struct {
	mu sync.Mutex

	// email -> uid of a pre-existing contact, if any.
	existingUID map[string]string
	// uid -> name of a group the contact already belongs to (other than
	// whatever target group a test passes to CheckMembership).
	membership map[string]string

	upsertCalls []upsertCall
}

type upsertCall struct {
	Email       string
	DisplayName string
	Group       string
	ContactType config.ContactType
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{
		existingUID: make(map[string]string),
		membership:  make(map[string]string),
	}
}

func (f *fakeContacts) seedExisting(email, uid, group string) {
	f.existingUID[email] = uid
	f.membership[uid] = group
}

func (f *fakeContacts) SearchByEmail(_ context.Context, email string) ([]contacts.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	uid, ok := f.existingUID[email]
	if !ok {
		return nil, nil
	}
	return []contacts.Card{{Href: "/card/" + uid + ".vcf", ETag: `"1"`, Data: vcardWithUID(uid)}}, nil
}

func (f *fakeContacts) CheckMembership(_ context.Context, uid, excludeGroup string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	group := f.membership[uid]
	if group == "" || group == excludeGroup {
		return "", nil
	}
	return group, nil
}

func (f *fakeContacts) UpsertContact(_ context.Context, email, displayName, groupName string, contactType config.ContactType) (contacts.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.upsertCalls = append(f.upsertCalls, upsertCall{email, displayName, groupName, contactType})
	uid := f.existingUID[email]
	if uid == "" {
		uid = "uid-" + email
	}
	return contacts.UpsertResult{Action: "created", UID: uid, Group: groupName}, nil
}

func vcardWithUID(uid string) []byte {
	card := make(vcard.Card)
	card.Set(vcard.FieldVersion, &vcard.Field{Value: "3.0"})
	card.Set(vcard.FieldUID, &vcard.Field{Value: uid})
	card.Set(vcard.FieldFormattedName, &vcard.Field{Value: fmt.Sprintf("contact %s", uid)})

	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(card); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
