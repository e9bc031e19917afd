package config

import (
	"fmt"
	"sort"
	"strings"
)

// ContactType distinguishes whether a category's contacts are filed as
// CardDAV company or person kind cards.
type ContactType string

const (
	ContactTypeCompany ContactType = "company"
	ContactTypePerson  ContactType = "person"
)

// CategoryConfig is a triage category as provided by the user in
// config.yaml, before parent-inheritance resolution.
type CategoryConfig struct {
	Name               string      `yaml:"name"`
	Label              string      `yaml:"label"`
	ContactGroup       string      `yaml:"contact_group"`
	DestinationMailbox string      `yaml:"destination_mailbox"`
	ContactType        ContactType `yaml:"contact_type"`
	Parent             string      `yaml:"parent"`
}

// ResolvedCategory is a fully resolved triage category: every field is
// concrete, with parent inheritance already applied.
type ResolvedCategory struct {
	Name               string
	Label              string
	ContactGroup       string
	DestinationMailbox string
	ContactType        ContactType
	Parent             string
}

// deriveLabel turns a category name into its action label, e.g.
// "Paper Trail" -> "@ToPaperTrail".
func deriveLabel(name string) string {
	fields := strings.Fields(name)
	return "@To" + strings.Join(fields, "")
}

// defaultCategories mirrors the out-of-the-box category set: a catch-all
// Imbox routed to Inbox, Feed and Paper Trail for low-priority automated
// mail, Jail for quarantined senders, and Person for individual human
// senders who get grouped under Imbox's contact group.
func defaultCategories() []CategoryConfig {
	return []CategoryConfig{
		{
			Name:                "Imbox",
			ContactGroup:        "Imbox",
			DestinationMailbox:  "Inbox",
			ContactType:         ContactTypeCompany,
		},
		{
			Name:                "Feed",
			ContactGroup:        "Feed",
			DestinationMailbox:  "Feed",
			ContactType:         ContactTypeCompany,
		},
		{
			Name:                "Paper Trail",
			ContactGroup:        "Paper Trail",
			DestinationMailbox:  "Paper Trail",
			ContactType:         ContactTypeCompany,
		},
		{
			Name:                "Jail",
			ContactGroup:        "Jail",
			DestinationMailbox:  "Jail",
			ContactType:         ContactTypeCompany,
		},
		{
			Name:        "Person",
			Parent:      "Imbox",
			ContactType: ContactTypePerson,
		},
	}
}

// ResolveCategories validates a raw category list and resolves parent
// inheritance, returning every validation error found rather than
// stopping at the first (matching the original's collect-all-errors
// behavior, so a misconfigured category list is fixed in one pass).
func ResolveCategories(categories []CategoryConfig) ([]ResolvedCategory, error) {
	var errs []string

	if len(categories) == 0 {
		return nil, fmt.Errorf("triage.categories must not be empty")
	}

	byName := make(map[string]CategoryConfig, len(categories))
	seenNames := make(map[string]bool, len(categories))
	for _, c := range categories {
		if seenNames[c.Name] {
			errs = append(errs, fmt.Sprintf("duplicate category name %q", c.Name))
		}
		seenNames[c.Name] = true
		byName[c.Name] = c
	}

	for _, c := range categories {
		if c.Parent != "" {
			if _, ok := byName[c.Parent]; !ok {
				errs = append(errs, fmt.Sprintf("category %q references unknown parent %q", c.Name, c.Parent))
			}
		}
	}

	for _, c := range categories {
		if cycleExists(c.Name, byName) {
			errs = append(errs, fmt.Sprintf("category %q is part of a parent cycle", c.Name))
		}
	}

	// Derive labels first so duplicate-label detection sees the final values.
	derivedLabels := make(map[string]string, len(categories))
	for _, c := range categories {
		label := c.Label
		if label == "" {
			label = deriveLabel(c.Name)
		}
		derivedLabels[c.Name] = label
	}
	labelOwners := make(map[string][]string)
	for name, label := range derivedLabels {
		labelOwners[label] = append(labelOwners[label], name)
	}
	for label, owners := range labelOwners {
		if len(owners) > 1 {
			sort.Strings(owners)
			errs = append(errs, fmt.Sprintf("label %q is derived by multiple categories: %s", label, strings.Join(owners, ", ")))
		}
	}

	// A shared contact_group across unrelated categories (neither a parent
	// nor a child of the other) is very likely a typo, not intent.
	groupOwners := make(map[string][]string)
	for _, c := range categories {
		if c.ContactGroup != "" {
			groupOwners[c.ContactGroup] = append(groupOwners[c.ContactGroup], c.Name)
		}
	}
	for group, owners := range groupOwners {
		if len(owners) <= 1 {
			continue
		}
		for i := 0; i < len(owners); i++ {
			for j := i + 1; j < len(owners); j++ {
				if !relatedByParent(owners[i], owners[j], byName) {
					errs = append(errs, fmt.Sprintf(
						"contact_group %q is shared by unrelated categories %q and %q", group, owners[i], owners[j]))
				}
			}
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid triage categories:\n  - %s", strings.Join(errs, "\n  - "))
	}

	// Second pass: apply parent inheritance for contact_group and
	// destination_mailbox only when the child left them unset.
	resolved := make([]ResolvedCategory, 0, len(categories))
	for _, c := range categories {
		r := ResolvedCategory{
			Name:                c.Name,
			Label:               derivedLabels[c.Name],
			ContactGroup:        c.ContactGroup,
			DestinationMailbox:  c.DestinationMailbox,
			ContactType:         c.ContactType,
			Parent:              c.Parent,
		}
		if r.ContactType == "" {
			r.ContactType = ContactTypeCompany
		}
		if c.Parent != "" {
			parent := byName[c.Parent]
			if r.ContactGroup == "" {
				r.ContactGroup = parent.ContactGroup
				if r.ContactGroup == "" {
					r.ContactGroup = parent.Name
				}
			}
			if r.DestinationMailbox == "" {
				r.DestinationMailbox = parent.DestinationMailbox
				if r.DestinationMailbox == "" {
					r.DestinationMailbox = parent.Name
				}
			}
		}
		if r.ContactGroup == "" {
			r.ContactGroup = c.Name
		}
		if r.DestinationMailbox == "" {
			r.DestinationMailbox = c.Name
		}
		resolved = append(resolved, r)
	}

	return resolved, nil
}

func cycleExists(start string, byName map[string]CategoryConfig) bool {
	visited := map[string]bool{}
	current := start
	for {
		c, ok := byName[current]
		if !ok || c.Parent == "" {
			return false
		}
		if visited[c.Parent] || c.Parent == start {
			return true
		}
		visited[current] = true
		current = c.Parent
	}
}

func relatedByParent(a, b string, byName map[string]CategoryConfig) bool {
	if byName[a].Parent == b || byName[b].Parent == a {
		return true
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
