// Package mailapi implements a JMAP client scoped to the operations the
// screener workflow and setup tooling need: session discovery, mailbox
// resolution, email querying, and label mutation.
package mailapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ignite/mailroom/internal/pkg/httpretry"
)

const coreCapability = "urn:ietf:params:jmap:core"
const mailCapability = "urn:ietf:params:jmap:mail"

// Client is a thin JMAP request/response wrapper. It is stateless aside
// from the session fields filled in by Connect.
type Client struct {
	hostname string
	token    string
	http     *httpretry.RetryClient

	apiURL         string
	accountID      string
	eventSourceURL string
}

// New returns a Client for the given API hostname (e.g. "api.fastmail.com")
// authenticated with a bearer token.
func New(hostname, token string) *Client {
	return &Client{
		hostname: hostname,
		token:    token,
		http:     httpretry.NewRetryClient(nil, 3),
	}
}

// EventSourceURL returns the SSE endpoint discovered during Connect, or ""
// if the session didn't advertise one.
func (c *Client) EventSourceURL() string { return c.eventSourceURL }

type session struct {
	APIURL          string                     `json:"apiUrl"`
	EventSourceURL  string                     `json:"eventSourceUrl"`
	PrimaryAccounts map[string]string          `json:"primaryAccounts"`
	Capabilities    map[string]json.RawMessage `json:"capabilities"`
}

// Connect performs JMAP session discovery: GET /jmap/session, extracting
// the mail account ID, API URL, and event-source URL.
func (c *Client) Connect(ctx context.Context) error {
	url := c.sessionURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("mailapi: building session request: %w", err)
	}
	c.authenticate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mailapi: session discovery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mailapi: session discovery returned status %d", resp.StatusCode)
	}

	var sess session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return fmt.Errorf("mailapi: decoding session response: %w", err)
	}

	accountID, ok := sess.PrimaryAccounts[mailCapability]
	if !ok || accountID == "" {
		return fmt.Errorf("mailapi: session response has no primary account for %s", mailCapability)
	}

	c.apiURL = sess.APIURL
	c.accountID = accountID
	c.eventSourceURL = sess.EventSourceURL
	return nil
}

// sessionURL builds the session discovery URL. hostname is normally a bare
// host like "api.fastmail.com", in which case https:// is assumed; tests
// may pass a full "http://127.0.0.1:port" hostname to point at a fake
// server.
func (c *Client) sessionURL() string {
	if strings.Contains(c.hostname, "://") {
		return fmt.Sprintf("%s/jmap/session", strings.TrimSuffix(c.hostname, "/"))
	}
	return fmt.Sprintf("https://%s/jmap/session", c.hostname)
}

func (c *Client) authenticate(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
}

// methodCall is the JMAP [name, args, callID] 3-tuple.
type methodCall [3]any

// MethodResponse is a decoded [name, result, callID] 3-tuple. Result stays
// as json.RawMessage since JMAP method results have no common shape --
// each method call site decodes the slice it expects.
type MethodResponse struct {
	Name   string
	Result json.RawMessage
	CallID string
}

func (m *MethodResponse) UnmarshalJSON(data []byte) error {
	var raw [3]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &m.Name); err != nil {
		return fmt.Errorf("mailapi: decoding method response name: %w", err)
	}
	m.Result = raw[1]
	if err := json.Unmarshal(raw[2], &m.CallID); err != nil {
		return fmt.Errorf("mailapi: decoding method response call id: %w", err)
	}
	return nil
}

type callRequest struct {
	Using       []string     `json:"using"`
	MethodCalls []methodCall `json:"methodCalls"`
}

// Call issues one or more JMAP method calls in a single HTTP request and
// returns the decoded methodResponses, in order.
func (c *Client) Call(ctx context.Context, calls ...methodCall) ([]MethodResponse, error) {
	if c.apiURL == "" {
		return nil, fmt.Errorf("mailapi: Call invoked before Connect")
	}

	body, err := json.Marshal(callRequest{
		Using:       []string{coreCapability, mailCapability},
		MethodCalls: calls,
	})
	if err != nil {
		return nil, fmt.Errorf("mailapi: encoding method calls: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mailapi: building call request: %w", err)
	}
	c.authenticate(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mailapi: method call request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mailapi: method call returned status %d", resp.StatusCode)
	}

	var out struct {
		MethodResponses []MethodResponse `json:"methodResponses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("mailapi: decoding method responses: %w", err)
	}
	return out.MethodResponses, nil
}

// newCallID returns a short, cycle-unique identifier for a method call.
// JMAP call IDs only need to be unique within one request, so a counter
// suffix on the method name is sufficient.
func newCallID(method string, n int) string {
	return fmt.Sprintf("%s-%d", strings.ToLower(strings.ReplaceAll(method, "/", "-")), n)
}
