package contacts

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailroom/internal/config"
)

// fakeAddressbook serves a minimal CardDAV surface: fixed discovery
// responses, a REPORT endpoint backed by an in-memory card store, and PUT
// handling with ETag-based optimistic concurrency.
type fakeAddressbook struct {
	mu     sync.Mutex
	cards  map[string][]byte // href -> vcard bytes
	etags  map[string]string
	etagSeq int
}

func newFakeAddressbook() *fakeAddressbook {
	return &fakeAddressbook{cards: map[string][]byte{}, etags: map[string]string{}}
}

func (f *fakeAddressbook) nextETag() string {
	f.etagSeq++
	return fmt.Sprintf(`"etag-%d"`, f.etagSeq)
}

func (f *fakeAddressbook) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/carddav", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(207)
		fmt.Fprint(w, `<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response><href>/principals/me/</href>
    <propstat><status>HTTP/1.1 200 OK</status>
      <prop><current-user-principal><href>/principals/me/</href></current-user-principal></prop>
    </propstat>
  </response>
</multistatus>`)
	})
	mux.HandleFunc("/principals/me/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(207)
		fmt.Fprint(w, `<?xml version="1.0"?>
<multistatus xmlns="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">
  <response><href>/principals/me/</href>
    <propstat><status>HTTP/1.1 200 OK</status>
      <prop><card:addressbook-home-set><href>/addressbooks/me/</href></card:addressbook-home-set></prop>
    </propstat>
  </response>
</multistatus>`)
	})
	mux.HandleFunc("/addressbooks/me/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "PROPFIND" {
			w.WriteHeader(207)
			fmt.Fprint(w, `<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response><href>/addressbooks/me/default/</href>
    <propstat><status>HTTP/1.1 200 OK</status>
      <prop><resourcetype><collection/><addressbook xmlns="urn:ietf:params:xml:ns:carddav"/></resourcetype></prop>
    </propstat>
  </response>
</multistatus>`)
			return
		}
		f.handleReport(w, r)
	})
	// PUT targets under the default collection, e.g. /addressbooks/me/default/<uid>.vcf,
	// and REPORT is issued against the collection itself.
	mux.HandleFunc("/addressbooks/me/default/", f.handleCollection)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func (f *fakeAddressbook) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "PROPFIND", "REPORT":
		f.handleReport(w, r)
	case http.MethodPut:
		f.handlePut(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeAddressbook) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method == "PROPFIND" {
		w.WriteHeader(207)
		fmt.Fprint(w, `<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response><href>/addressbooks/me/default/</href>
    <propstat><status>HTTP/1.1 200 OK</status>
      <prop><resourcetype><collection/><addressbook xmlns="urn:ietf:params:xml:ns:carddav"/></resourcetype></prop>
    </propstat>
  </response>
</multistatus>`)
		return
	}

	// An EMAIL text-match narrows the result to cards carrying that
	// address; a query without one lists every card.
	body, _ := io.ReadAll(r.Body)
	wantEmail := ""
	const marker = `match-type="equals">`
	if i := strings.Index(string(body), marker); i >= 0 {
		rest := string(body)[i+len(marker):]
		if j := strings.Index(rest, "<"); j >= 0 {
			wantEmail = html.UnescapeString(rest[:j])
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	w.WriteHeader(207)
	fmt.Fprint(w, `<?xml version="1.0"?>`+"\n"+`<multistatus xmlns="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">`)
	for href, data := range f.cards {
		if wantEmail != "" {
			card, err := decodeVCard(data)
			if err != nil || !hasEmail(card, wantEmail) {
				continue
			}
		}
		fmt.Fprintf(w, `<response><href>%s</href><propstat><status>HTTP/1.1 200 OK</status><prop><getetag>%s</getetag><card:address-data>%s</card:address-data></prop></propstat></response>`,
			href, f.etags[href], escapeXML(string(data)))
	}
	fmt.Fprint(w, `</multistatus>`)
}

func (f *fakeAddressbook) handlePut(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	href := r.URL.Path
	body, _ := io.ReadAll(r.Body)

	if r.Header.Get("If-None-Match") == "*" {
		if _, exists := f.cards[href]; exists {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
	}
	if match := r.Header.Get("If-Match"); match != "" {
		if f.etags[href] != match {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
	}

	f.cards[href] = body
	f.etags[href] = f.nextETag()
	w.Header().Set("ETag", f.etags[href])
	w.WriteHeader(http.StatusCreated)
}

func escapeXML(s string) string {
	out := ""
	for _, r := range s {
		switch r {
		case '&':
			out += "&amp;"
		case '<':
			out += "&lt;"
		case '>':
			out += "&gt;"
		default:
			out += string(r)
		}
	}
	return out
}

func newConnectedTestClient(t *testing.T) *Client {
	t.Helper()
	fake := newFakeAddressbook()
	server := fake.server(t)

	c := New(server.URL, "alice", "secret")
	require.NoError(t, c.Connect(context.Background()))
	return c
}

func TestConnect_ResolvesAddressbookURL(t *testing.T) {
	c := newConnectedTestClient(t)
	assert.Contains(t, c.addressbookURL, "/addressbooks/me/default/")
}

func TestCreateContact_Company(t *testing.T) {
	c := newConnectedTestClient(t)

	card, err := c.CreateContact(context.Background(), "billing@acme.com", "", config.ContactTypeCompany)
	require.NoError(t, err)
	assert.NotEmpty(t, card.ETag)

	decoded, err := decodeVCard(card.Data)
	require.NoError(t, err)
	assert.Equal(t, "billing", decoded.Value("FN"))
	assert.Equal(t, "billing", decoded.Value("ORG"))
}

func TestCreateContact_Person(t *testing.T) {
	c := newConnectedTestClient(t)

	card, err := c.CreateContact(context.Background(), "jane@example.com", "Jane Doe", config.ContactTypePerson)
	require.NoError(t, err)

	decoded, err := decodeVCard(card.Data)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", decoded.Value("FN"))
	assert.Equal(t, "", decoded.Value("ORG"))
}

func TestUpsertContact_CreatesAndGroups(t *testing.T) {
	c := newConnectedTestClient(t)
	require.NoError(t, c.CreateGroup(context.Background(), "Imbox"))

	result, err := c.UpsertContact(context.Background(), "new@example.com", "New Sender", "Imbox", config.ContactTypeCompany)
	require.NoError(t, err)
	assert.Equal(t, "created", result.Action)
	assert.NotEmpty(t, result.UID)

	group, err := c.findGroupByName(context.Background(), "Imbox")
	require.NoError(t, err)
	decoded, err := decodeVCard(group.Data)
	require.NoError(t, err)
	assert.True(t, hasMember(decoded, result.UID))
}

func TestUpsertContact_NameMismatch(t *testing.T) {
	c := newConnectedTestClient(t)
	require.NoError(t, c.CreateGroup(context.Background(), "Imbox"))

	_, err := c.UpsertContact(context.Background(), "person@example.com", "Original Name", "Imbox", config.ContactTypePerson)
	require.NoError(t, err)

	result, err := c.UpsertContact(context.Background(), "person@example.com", "Different Name", "Imbox", config.ContactTypePerson)
	require.NoError(t, err)
	assert.Equal(t, "existing", result.Action)
	assert.True(t, result.NameMismatch)
}

func TestCheckMembership(t *testing.T) {
	c := newConnectedTestClient(t)
	require.NoError(t, c.CreateGroup(context.Background(), "Jail"))
	require.NoError(t, c.CreateGroup(context.Background(), "Imbox"))

	result, err := c.UpsertContact(context.Background(), "spammy@example.com", "", "Jail", config.ContactTypeCompany)
	require.NoError(t, err)

	group, err := c.CheckMembership(context.Background(), result.UID, "Imbox")
	require.NoError(t, err)
	assert.Equal(t, "Jail", group)

	// excludeGroup matching the only membership returns none
	group, err = c.CheckMembership(context.Background(), result.UID, "Jail")
	require.NoError(t, err)
	assert.Equal(t, "", group)
}

func TestValidateGroups_Missing(t *testing.T) {
	c := newConnectedTestClient(t)
	require.NoError(t, c.CreateGroup(context.Background(), "Imbox"))

	err := c.ValidateGroups(context.Background(), []string{"Imbox", "Jail"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Jail")
}
