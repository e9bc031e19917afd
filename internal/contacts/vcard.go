package contacts

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/google/uuid"

	"github.com/ignite/mailroom/internal/config"
)

const (
	fieldAppleKind   = "X-ADDRESSBOOKSERVER-KIND"
	fieldAppleMember = "X-ADDRESSBOOKSERVER-MEMBER"
	kindGroup        = "group"
)

func decodeVCard(data []byte) (vcard.Card, error) {
	dec := vcard.NewDecoder(bytes.NewReader(data))
	card, err := dec.Decode()
	if err != nil {
		return nil, fmt.Errorf("contacts: decoding vcard: %w", err)
	}
	return card, nil
}

func encodeVCard(card vcard.Card) ([]byte, error) {
	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(card); err != nil {
		return nil, fmt.Errorf("contacts: encoding vcard: %w", err)
	}
	return buf.Bytes(), nil
}

// isGroupCard reports whether a card carries Apple's group-kind marker.
func isGroupCard(card vcard.Card) bool {
	return strings.EqualFold(card.Value(fieldAppleKind), kindGroup)
}

// groupMemberUIDs returns the bare UIDs (without the urn:uuid: prefix) of
// every member listed on a group card.
func groupMemberUIDs(card vcard.Card) []string {
	var uids []string
	for _, f := range card[fieldAppleMember] {
		uids = append(uids, strings.TrimPrefix(f.Value, "urn:uuid:"))
	}
	return uids
}

// hasMember reports whether uid already appears on a group card.
func hasMember(card vcard.Card, uid string) bool {
	for _, existing := range groupMemberUIDs(card) {
		if existing == uid {
			return true
		}
	}
	return false
}

// addMember appends a member entry for uid to a group card.
func addMember(card vcard.Card, uid string) {
	card.Add(fieldAppleMember, &vcard.Field{Value: "urn:uuid:" + uid})
}

// setV3Version stamps a card as vCard 3.0, the format the contact store's
// cards are written and read as (paired with the INTERNET email type and
// Apple group extensions, which are 3.0 conventions).
func setV3Version(card vcard.Card) {
	card.Set(vcard.FieldVersion, &vcard.Field{Value: "3.0"})
}

// newGroupCard builds a fresh Apple-style contact group card.
func newGroupCard(name string) vcard.Card {
	card := make(vcard.Card)
	setV3Version(card)
	card.Set(vcard.FieldUID, &vcard.Field{Value: uuid.NewString()})
	card.Set(vcard.FieldFormattedName, &vcard.Field{Value: name})
	card.Set(fieldAppleKind, &vcard.Field{Value: kindGroup})
	return card
}

const noteDateLayout = "2006-01-02"

func addedNote(now time.Time) string {
	return fmt.Sprintf("Added by Mailroom on %s", now.Format(noteDateLayout))
}

func updatedNote(now time.Time) string {
	return fmt.Sprintf("Updated by Mailroom on %s", now.Format(noteDateLayout))
}

// localPart returns the portion of an email address before the @, used as
// a display-name fallback.
func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

// newContactCard builds a vCard for a newly discovered sender. contactType
// shapes FN/N/ORG: a company gets an organization and empty structured
// name; a person gets a structured name split on the first whitespace.
func newContactCard(email, displayName string, contactType config.ContactType, now time.Time) vcard.Card {
	name := displayName
	if name == "" {
		name = localPart(email)
	}

	card := make(vcard.Card)
	setV3Version(card)
	card.Set(vcard.FieldUID, &vcard.Field{Value: uuid.NewString()})
	card.Set(vcard.FieldFormattedName, &vcard.Field{Value: name})

	if contactType == config.ContactTypePerson {
		given, family := splitPersonName(name)
		card.Set(vcard.FieldName, &vcard.Field{Value: fmt.Sprintf("%s;%s;;;", family, given)})
	} else {
		card.Set(vcard.FieldName, &vcard.Field{Value: ";;;;"})
		card.Set(vcard.FieldOrganization, &vcard.Field{Value: name})
	}

	card.Add(vcard.FieldEmail, &vcard.Field{Value: email, Params: vcard.Params{vcard.ParamType: []string{"INTERNET"}}})
	card.Set(vcard.FieldNote, &vcard.Field{Value: addedNote(now)})

	return card
}

// splitPersonName splits a display name on the first whitespace run: a
// single-word name becomes the given name with an empty family name.
func splitPersonName(name string) (given, family string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

// cardUID returns a card's UID property value.
func cardUID(card vcard.Card) string {
	return card.Value(vcard.FieldUID)
}

// CardUID decodes a raw Card (as returned by SearchByEmail) and returns its
// UID property, for callers that need the UID before deciding whether to
// upsert.
func CardUID(card Card) (string, error) {
	decoded, err := decodeVCard(card.Data)
	if err != nil {
		return "", err
	}
	return cardUID(decoded), nil
}

// cardEmails returns every EMAIL value on a card, lowercased for
// comparison.
func cardEmails(card vcard.Card) []string {
	var emails []string
	for _, f := range card[vcard.FieldEmail] {
		emails = append(emails, strings.ToLower(f.Value))
	}
	return emails
}

func hasEmail(card vcard.Card, email string) bool {
	target := strings.ToLower(email)
	for _, e := range cardEmails(card) {
		if e == target {
			return true
		}
	}
	return false
}
