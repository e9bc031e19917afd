package setup

import "context"

// mailboxCreator is the slice of mailapi.Client Apply needs.
type mailboxCreator interface {
	CreateMailbox(ctx context.Context, name string, parentID string) (string, error)
}

// groupCreator is the slice of contacts.Client Apply needs.
type groupCreator interface {
	CreateGroup(ctx context.Context, name string) error
}

// Apply creates every resource in plan whose status is "create", in
// order: mailboxes and labels (both JMAP mailboxes) first, then contact
// groups. A resource whose parent already failed this run is recorded as
// "skipped" rather than attempted.
func Apply(ctx context.Context, plan []ResourceAction, mail mailboxCreator, contactStore groupCreator) []ResourceAction {
	failed := make(map[string]bool)
	result := make([]ResourceAction, 0, len(plan))

	var mailboxesAndLabels, groups []ResourceAction
	for _, a := range plan {
		if a.Kind == "contact_group" {
			groups = append(groups, a)
		} else {
			mailboxesAndLabels = append(mailboxesAndLabels, a)
		}
	}

	for _, action := range mailboxesAndLabels {
		if action.Status == "exists" {
			result = append(result, action)
			continue
		}
		if action.Parent != "" && failed[action.Parent] {
			action.Status = "skipped"
			action.Error = "parent failed"
			result = append(result, action)
			continue
		}

		if _, err := mail.CreateMailbox(ctx, action.Name, ""); err != nil {
			failed[action.Name] = true
			action.Status = "failed"
			action.Error = err.Error()
		} else {
			action.Status = "created"
		}
		result = append(result, action)
	}

	for _, action := range groups {
		if action.Status == "exists" {
			result = append(result, action)
			continue
		}

		if err := contactStore.CreateGroup(ctx, action.Name); err != nil {
			action.Status = "failed"
			action.Error = err.Error()
		} else {
			action.Status = "created"
		}
		result = append(result, action)
	}

	return result
}

// AnyFailed reports whether any resource in result ended in "failed"
// status, for the setup subcommand's exit code.
func AnyFailed(result []ResourceAction) bool {
	for _, a := range result {
		if a.Status == "failed" {
			return true
		}
	}
	return false
}
