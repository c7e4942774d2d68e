package translate

import (
	"fmt"
	"strings"
)

const maxShownFiles = 5

// Markdown renders the record as the user-facing response block. The
// technical detail never appears here; callers log it instead.
func (t Translated) Markdown() string {
	var b strings.Builder

	switch t.Severity {
	case SeverityCritical:
		b.WriteString("## 🚨 Critical Error\n\n")
	case SeverityError:
		b.WriteString("## ❌ Error\n\n")
	case SeverityWarning:
		b.WriteString("## ⚠️ Warning\n\n")
	default:
		b.WriteString("## ℹ️ Note\n\n")
	}

	b.WriteString(t.UserMessage)
	b.WriteString("\n")

	if len(t.AffectedFiles) > 0 {
		b.WriteString("\n**Affected files:**\n")
		shown := t.AffectedFiles
		if len(shown) > maxShownFiles {
			shown = shown[:maxShownFiles]
		}
		for _, f := range shown {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
		if extra := len(t.AffectedFiles) - maxShownFiles; extra > 0 {
			fmt.Fprintf(&b, "- ... and %d more\n", extra)
		}
	}

	if len(t.SuggestedActions) > 0 {
		b.WriteString("\n**What you can do:**\n")
		for _, a := range t.SuggestedActions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}

	return b.String()
}
