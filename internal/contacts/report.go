package contacts

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"net/http"
)

// Card is a single addressbook entry as returned by a REPORT query: the
// resource URL, its current ETag for optimistic concurrency, and the raw
// vCard bytes.
type Card struct {
	Href string
	ETag string
	Data []byte
}

const reportAllVCards = `<?xml version="1.0" encoding="utf-8"?>
<card:addressbook-query xmlns="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">
  <prop>
    <getetag/>
    <card:address-data/>
  </prop>
  <card:filter/>
</card:addressbook-query>`

const reportByEmailTemplate = `<?xml version="1.0" encoding="utf-8"?>
<card:addressbook-query xmlns="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">
  <prop>
    <getetag/>
    <card:address-data/>
  </prop>
  <card:filter>
    <card:prop-filter name="EMAIL">
      <card:text-match collation="i;unicode-casemap" match-type="equals">%s</card:text-match>
    </card:prop-filter>
  </card:filter>
</card:addressbook-query>`

// report issues a REPORT addressbook-query against the addressbook
// collection and returns every matching card.
func (c *Client) report(ctx context.Context, body string) ([]Card, error) {
	if c.addressbookURL == "" {
		return nil, fmt.Errorf("contacts: report invoked before Connect")
	}

	req, err := c.newRequest(ctx, "REPORT", c.addressbookURL, []byte(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", "1")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacts: REPORT: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 207 && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("contacts: REPORT returned status %d", resp.StatusCode)
	}

	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("contacts: decoding REPORT response: %w", err)
	}

	cards := make([]Card, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		for _, ps := range r.Propstat {
			if ps.Prop.AddressData == "" {
				continue
			}
			cards = append(cards, Card{
				Href: r.Href,
				ETag: ps.Prop.GetETag,
				Data: []byte(ps.Prop.AddressData),
			})
		}
	}
	return cards, nil
}

// allCards enumerates every vCard in the addressbook.
func (c *Client) allCards(ctx context.Context) ([]Card, error) {
	return c.report(ctx, reportAllVCards)
}

// SearchByEmail performs a server-side query matching an address
// case-insensitively, returning a card per hit (normally zero or one).
func (c *Client) SearchByEmail(ctx context.Context, email string) ([]Card, error) {
	body := fmt.Sprintf(reportByEmailTemplate, html.EscapeString(email))
	return c.report(ctx, body)
}
