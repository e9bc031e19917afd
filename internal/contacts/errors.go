package contacts

import "errors"

// ErrPreconditionFailed is returned when a conditional PUT (If-Match or
// If-None-Match) is rejected by the server -- an ETag has changed under
// us, or a card already exists where we expected none.
var ErrPreconditionFailed = errors.New("contacts: precondition failed")
