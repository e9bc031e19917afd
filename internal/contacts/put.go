package contacts

import (
	"context"
	"fmt"
	"net/http"

	"github.com/emersion/go-vcard"
)

// putOptions controls the conditional header sent with a card upload.
type putOptions struct {
	ifMatch      string // send If-Match: <etag> when set
	ifNoneExists bool   // send If-None-Match: * when true
}

// putCard uploads a card to an absolute URL and returns the ETag the
// server assigned. On a 412 or 409 it returns ErrPreconditionFailed so
// callers can refetch and retry.
func (c *Client) putCard(ctx context.Context, url string, card vcard.Card, opts putOptions) (string, error) {
	data, err := encodeVCard(card)
	if err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPut, url, data)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/vcard; charset=utf-8")
	if opts.ifNoneExists {
		req.Header.Set("If-None-Match", "*")
	} else if opts.ifMatch != "" {
		req.Header.Set("If-Match", opts.ifMatch)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("contacts: PUT %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPreconditionFailed || resp.StatusCode == http.StatusConflict {
		return "", ErrPreconditionFailed
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return "", fmt.Errorf("contacts: PUT %s returned status %d", url, resp.StatusCode)
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		// Some servers don't echo the new ETag on PUT; a follow-up GET
		// would be needed, but none of our callers rely on out-of-band
		// freshness within the same request, so an empty value is safe --
		// the next read re-fetches (see AddToGroup's caller).
		return "", nil
	}
	return etag, nil
}

// resourceURL builds the absolute URL for a new card with the given UID,
// filed directly under the addressbook collection.
func (c *Client) resourceURL(uid string) string {
	base := c.addressbookURL
	if len(base) > 0 && base[len(base)-1] != '/' {
		base += "/"
	}
	return base + uid + ".vcf"
}
