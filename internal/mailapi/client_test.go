package mailapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient points a Client at a test server by filling in the session
// fields (apiURL, accountID) directly instead of running Connect, avoiding
// the need to reimplement hostname-based HTTPS dialing in tests.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := New(strings.TrimPrefix(server.URL, "http://"), "test-token")
	c.apiURL = server.URL + "/api"
	c.accountID = "account1"
	return c
}

func TestConnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jmap/session", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"apiUrl":         "https://api.example.com/jmap/api",
			"eventSourceUrl": "https://api.example.com/jmap/eventsource",
			"primaryAccounts": map[string]string{
				mailCapability: "account1",
			},
		})
	}))
	defer server.Close()

	c := New(server.URL, "test-token")
	err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "account1", c.accountID)
	assert.Equal(t, "https://api.example.com/jmap/eventsource", c.EventSourceURL())
}

func TestResolveMailboxes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req callRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.MethodCalls, 1)

		role := "inbox"
		list := []jmapMailbox{
			{ID: "mb-inbox", Name: "Inbox", Role: &role},
			{ID: "mb-screener", Name: "Screener"},
			{ID: "mb-feed-child", Name: "Feed", ParentID: strPtr("mb-other")},
			{ID: "mb-feed-top", Name: "Feed"},
		}
		writeMethodResponse(t, w, "Mailbox/get", mailboxGetResult{List: list})
	})

	resolved, err := c.ResolveMailboxes(context.Background(), []string{"Inbox", "Screener", "Feed"})
	require.NoError(t, err)
	assert.Equal(t, "mb-inbox", resolved["Inbox"])
	assert.Equal(t, "mb-screener", resolved["Screener"])
	assert.Equal(t, "mb-feed-top", resolved["Feed"]) // prefers top-level duplicate
}

func TestResolveMailboxes_Missing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeMethodResponse(t, w, "Mailbox/get", mailboxGetResult{List: nil})
	})

	_, err := c.ResolveMailboxes(context.Background(), []string{"Inbox", "Jail"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Inbox")
	assert.Contains(t, err.Error(), "Jail")
}

func TestQueryEmails_Paginates(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req callRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		args := req.MethodCalls[0][1].(map[string]any)
		position := int(args["position"].(float64))

		var ids []string
		total := 150
		if position == 0 {
			ids = makeIDs(0, 100)
		} else {
			ids = makeIDs(100, 50)
		}
		writeMethodResponse(t, w, "Email/query", emailQueryResult{IDs: ids, Total: total, Position: position})
	})

	ids, err := c.QueryEmails(context.Background(), "mb1", "")
	require.NoError(t, err)
	assert.Len(t, ids, 150)
	assert.Equal(t, 2, calls)
}

func TestGetSenders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeMethodResponse(t, w, "Email/get", map[string]any{
			"list": []map[string]any{
				{"id": "m1", "from": []map[string]any{{"email": "a@example.com", "name": "  "}}},
				{"id": "m2", "from": []map[string]any{{"email": "b@example.com", "name": "Bob"}}},
				{"id": "m3", "from": []map[string]any{}},
			},
		})
	})

	senders, err := c.GetSenders(context.Background(), []string{"m1", "m2", "m3"})
	require.NoError(t, err)
	assert.Equal(t, "", senders["m1"].DisplayName)
	assert.Equal(t, "Bob", senders["m2"].DisplayName)
	_, ok := senders["m3"]
	assert.False(t, ok)
}

func TestRemoveLabel_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeMethodResponse(t, w, "Email/set", setResponse{Updated: map[string]json.RawMessage{"m1": json.RawMessage("{}")}})
	})

	err := c.RemoveLabel(context.Background(), "m1", "mb1")
	assert.NoError(t, err)
}

func TestRemoveLabel_NotUpdated(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeMethodResponse(t, w, "Email/set", setResponse{
			NotUpdated: map[string]setErrorDetail{"m1": {Type: "notFound"}},
		})
	})

	err := c.RemoveLabel(context.Background(), "m1", "mb1")
	require.Error(t, err)
	var setErr *SetError
	require.ErrorAs(t, err, &setErr)
	assert.Equal(t, "notFound", setErr.Failed["m1"])
}

func TestBatchMoveEmails_Chunks(t *testing.T) {
	var gotSizes []int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req callRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		args := req.MethodCalls[0][1].(map[string]any)
		update := args["update"].(map[string]any)
		gotSizes = append(gotSizes, len(update))
		writeMethodResponse(t, w, "Email/set", setResponse{})
	})

	ids := makeIDs(0, 150)
	err := c.BatchMoveEmails(context.Background(), ids, "screener", []string{"inbox"})
	require.NoError(t, err)
	assert.Equal(t, []int{100, 50}, gotSizes)
}

func strPtr(s string) *string { return &s }

func makeIDs(start, n int) []string {
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = "m" + itoa(start+i)
	}
	return ids
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func writeMethodResponse(t *testing.T, w http.ResponseWriter, method string, result any) {
	t.Helper()
	data, err := json.Marshal(result)
	require.NoError(t, err)
	json.NewEncoder(w).Encode(map[string]any{
		"methodResponses": []any{
			[]any{method, json.RawMessage(data), "call-0"},
		},
	})
}
