// Package contacts implements a CardDAV client scoped to the operations
// the screener workflow and setup tooling need: addressbook discovery,
// group validation, email search, and contact/group upsert.
package contacts

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"

	"github.com/ignite/mailroom/internal/pkg/httpretry"
)

// Client is a CardDAV client authenticated with HTTP Basic Auth. Connect
// must be called once at startup to resolve the addressbook collection
// URL before any other method is used.
type Client struct {
	hostname string
	username string
	password string
	http     *httpretry.RetryClient

	addressbookURL string
}

// New returns a Client for the given CardDAV hostname (e.g.
// "carddav.fastmail.com").
func New(hostname, username, password string) *Client {
	return &Client{
		hostname: hostname,
		username: username,
		password: password,
		http:     httpretry.NewRetryClient(nil, 3),
	}
}

const (
	davNS     = "DAV:"
	carddavNS = "urn:ietf:params:xml:ns:carddav"
)

func (c *Client) baseURL() string {
	if len(c.hostname) > 7 && c.hostname[:7] == "http://" {
		return c.hostname
	}
	if len(c.hostname) > 8 && c.hostname[:8] == "https://" {
		return c.hostname
	}
	return "https://" + c.hostname
}

func (c *Client) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("contacts: building %s request: %w", method, err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	return req, nil
}

// propfindPrincipal asks the well-known CardDAV entry point for the
// current user's principal URL.
const propfindCurrentUserPrincipal = `<?xml version="1.0" encoding="utf-8"?>
<propfind xmlns="DAV:">
  <prop>
    <current-user-principal/>
  </prop>
</propfind>`

const propfindAddressbookHomeSet = `<?xml version="1.0" encoding="utf-8"?>
<propfind xmlns="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">
  <prop>
    <card:addressbook-home-set/>
  </prop>
</propfind>`

const propfindAddressbookCollection = `<?xml version="1.0" encoding="utf-8"?>
<propfind xmlns="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">
  <prop>
    <resourcetype/>
    <displayname/>
  </prop>
</propfind>`

// Connect runs the three-step discovery chain: principal →
// addressbook-home-set → addressbook collection. Failure of any step is
// fatal; there is no fallback addressbook URL to guess.
func (c *Client) Connect(ctx context.Context) error {
	principal, err := c.propfindText(ctx, c.baseURL()+"/.well-known/carddav", propfindCurrentUserPrincipal, "current-user-principal")
	if err != nil {
		return fmt.Errorf("contacts: resolving principal: %w", err)
	}

	homeSet, err := c.propfindText(ctx, c.baseURL()+principal, propfindAddressbookHomeSet, "addressbook-home-set")
	if err != nil {
		return fmt.Errorf("contacts: resolving addressbook home set: %w", err)
	}

	addressbook, err := c.findAddressbookCollection(ctx, c.baseURL()+homeSet)
	if err != nil {
		return fmt.Errorf("contacts: resolving addressbook collection: %w", err)
	}

	c.addressbookURL = c.baseURL() + addressbook
	return nil
}

// multistatus mirrors the subset of a DAV multistatus response this
// client reads: per-resource href, etag, address-data, and resourcetype.
type multistatus struct {
	XMLName   xml.Name    `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href     string      `xml:"href"`
	Propstat []propstat `xml:"propstat"`
}

type propstat struct {
	Status string `xml:"status"`
	Prop   prop   `xml:"prop"`
}

type prop struct {
	CurrentUserPrincipal hrefHolder `xml:"current-user-principal"`
	AddressbookHomeSet   hrefHolder `xml:"addressbook-home-set"`
	ResourceType         resourceType `xml:"resourcetype"`
	DisplayName          string `xml:"displayname"`
	GetETag              string `xml:"getetag"`
	AddressData          string `xml:"address-data"`
}

type hrefHolder struct {
	Href string `xml:"href"`
}

type resourceType struct {
	Addressbook *struct{} `xml:"addressbook"`
}

// propfindText issues a depth-0 PROPFIND and extracts a single href-valued
// property from the first response's first successful propstat.
func (c *Client) propfindText(ctx context.Context, url, body, propName string) (string, error) {
	ms, err := c.propfind(ctx, url, body, "0")
	if err != nil {
		return "", err
	}
	for _, r := range ms.Responses {
		for _, ps := range r.Propstat {
			switch propName {
			case "current-user-principal":
				if ps.Prop.CurrentUserPrincipal.Href != "" {
					return ps.Prop.CurrentUserPrincipal.Href, nil
				}
			case "addressbook-home-set":
				if ps.Prop.AddressbookHomeSet.Href != "" {
					return ps.Prop.AddressbookHomeSet.Href, nil
				}
			}
		}
	}
	return "", fmt.Errorf("contacts: property %s not found in PROPFIND response", propName)
}

// findAddressbookCollection enumerates the home-set's children (depth 1)
// and returns the href of the first collection whose resourcetype includes
// "addressbook".
func (c *Client) findAddressbookCollection(ctx context.Context, url string) (string, error) {
	ms, err := c.propfind(ctx, url, propfindAddressbookCollection, "1")
	if err != nil {
		return "", err
	}
	for _, r := range ms.Responses {
		for _, ps := range r.Propstat {
			if ps.Prop.ResourceType.Addressbook != nil {
				return r.Href, nil
			}
		}
	}
	return "", fmt.Errorf("contacts: no addressbook collection found under %s", url)
}

func (c *Client) propfind(ctx context.Context, url, body, depth string) (*multistatus, error) {
	req, err := c.newRequest(ctx, "PROPFIND", url, []byte(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", depth)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacts: PROPFIND %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 207 && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("contacts: PROPFIND %s returned status %d", url, resp.StatusCode)
	}

	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("contacts: decoding multistatus from %s: %w", url, err)
	}
	return &ms, nil
}
