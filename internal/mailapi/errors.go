package mailapi

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SetError reports one or more JMAP objects that a Set call failed to
// create or update, naming the offending IDs and the server's reason for
// each, rather than surfacing a bare "set failed".
type SetError struct {
	Method string
	Failed map[string]string // id -> SetError type/description from the server
}

func (e *SetError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	details := make([]string, 0, len(ids))
	for _, id := range ids {
		details = append(details, fmt.Sprintf("%s: %s", id, e.Failed[id]))
	}
	return fmt.Sprintf("mailapi: %s rejected %d object(s): %s", e.Method, len(e.Failed), strings.Join(details, "; "))
}

// setResponse is the shared decode shape of Email/set and Mailbox/set
// results: maps of id -> created/updated object, and id -> error object on
// failure.
type setResponse struct {
	Created     map[string]json.RawMessage `json:"created"`
	Updated     map[string]json.RawMessage `json:"updated"`
	NotCreated  map[string]setErrorDetail  `json:"notCreated"`
	NotUpdated  map[string]setErrorDetail  `json:"notUpdated"`
}

type setErrorDetail struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

func (d setErrorDetail) String() string {
	if d.Description != "" {
		return fmt.Sprintf("%s (%s)", d.Type, d.Description)
	}
	return d.Type
}
