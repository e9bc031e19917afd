package setup

import (
	"fmt"
	"io"
)

var statusSymbols = map[string]string{
	"exists":  "✓",
	"create":  "+",
	"created": "✓",
	"failed":  "✗",
	"skipped": "⊘",
}

var statusColors = map[string]string{
	"exists":  colorDim,
	"create":  colorYellow,
	"created": colorGreen,
	"failed":  colorRed,
	"skipped": colorDim,
}

func formatStatus(a ResourceAction) string {
	switch {
	case a.Status == "failed" && a.Error != "":
		return color(fmt.Sprintf("FAILED: %s", a.Error), colorRed)
	case a.Status == "skipped" && a.Error != "":
		return color(fmt.Sprintf("skipped (%s)", a.Error), colorDim)
	default:
		if code, ok := statusColors[a.Status]; ok {
			return color(a.Status, code)
		}
		return a.Status
	}
}

func printSection(out io.Writer, title string, actions []ResourceAction) {
	if len(actions) == 0 {
		return
	}
	fmt.Fprintln(out, title)
	for _, a := range actions {
		symbol := statusSymbols[a.Status]
		if symbol == "" {
			symbol = "?"
		}
		if code, ok := statusColors[a.Status]; ok {
			symbol = color(symbol, code)
		}
		fmt.Fprintf(out, "  %s %-30s %s\n", symbol, a.Name, formatStatus(a))
	}
	fmt.Fprintln(out)
}

// PrintPlan renders a terraform-style resource report to out, grouped by
// kind, with a one-line summary.
func PrintPlan(out io.Writer, actions []ResourceAction, applied bool) {
	var mailboxes, labels, groups []ResourceAction
	for _, a := range actions {
		switch a.Kind {
		case "mailbox":
			mailboxes = append(mailboxes, a)
		case "label":
			labels = append(labels, a)
		case "contact_group":
			groups = append(groups, a)
		}
	}

	fmt.Fprintln(out)
	printSection(out, "Mailboxes", mailboxes)
	printSection(out, "Action Labels", labels)
	printSection(out, "Contact Groups", groups)

	var existing, failed, skipped, createdOrToCreate int
	for _, a := range actions {
		switch a.Status {
		case "exists":
			existing++
		case "failed":
			failed++
		case "skipped":
			skipped++
		case "created", "create":
			createdOrToCreate++
		}
	}

	parts := make([]string, 0, 4)
	if applied {
		parts = append(parts, fmt.Sprintf("%d created", createdOrToCreate))
	} else {
		parts = append(parts, fmt.Sprintf("%d to create", createdOrToCreate))
	}
	parts = append(parts, fmt.Sprintf("%d existing", existing))
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	if skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", skipped))
	}

	for i, p := range parts {
		if i > 0 {
			fmt.Fprint(out, " · ")
		}
		fmt.Fprint(out, p)
	}
	fmt.Fprintln(out)
}
