package compaction

import (
	"fmt"
	"strings"

	"github.com/autodrive/autodrive/internal/domain/history"
)

// Snippet is one role/text preview line carried forward into a bridge
// message's "Prior conversation context" section.
type Snippet struct {
	Role string
	Text string
}

// MakeCompactionSummaryMessage renders the bridge message: a user-role
// message embedding recent snippets and the
// summary text (remote or deterministic).
func MakeCompactionSummaryMessage(snippets []Snippet, summary string) history.ResponseItem {
	if len(snippets) > MaxCompactionSnippets {
		snippets = snippets[len(snippets)-MaxCompactionSnippets:]
	}

	var b strings.Builder
	b.WriteString("## Prior conversation context\n")
	for _, s := range snippets {
		fmt.Fprintf(&b, "- (%s) %s\n", s.Role, s.Text)
	}
	b.WriteString("## Key takeaways\n")
	if strings.TrimSpace(summary) == "" {
		b.WriteString("(no summary available)\n")
	} else {
		b.WriteString(summary)
		b.WriteString("\n")
	}

	return history.NewMessage(history.RoleUser, history.InputText(b.String()))
}

// TailSnippets extracts up to MaxCompactionSnippets role/text previews
// from the tail of a transcript slice, budgeted to roughly
// CompactUserMessageMaxTokens*4 bytes total.
func TailSnippets(items []history.ResponseItem) []Snippet {
	budget := CompactUserMessageMaxTokens * 4
	var out []Snippet
	used := 0
	for i := len(items) - 1; i >= 0 && len(out) < MaxCompactionSnippets; i-- {
		item := items[i]
		if item.Type != history.KindMessage {
			continue
		}
		text := item.TextContent()
		if text == "" {
			continue
		}
		if len(text) > 200 {
			text = text[:200] + "..."
		}
		if used+len(text) > budget {
			break
		}
		used += len(text)
		out = append([]Snippet{{Role: string(item.Role), Text: text}}, out...)
	}
	return out
}

// DeterministicSummary synthesizes a text summary locally when the
// remote summarizer is empty or fails: role-tagged previews, a tool-event count, and up to 5
// shell commands and 5 action lines.
func DeterministicSummary(items []history.ResponseItem) string {
	var previews []string
	toolEvents := 0
	var shellCommands []string
	var actionLines []string

	for _, item := range items {
		switch {
		case item.Type == history.KindMessage:
			text := item.TextContent()
			if text == "" {
				continue
			}
			if len(text) > 200 {
				text = text[:200] + "..."
			}
			previews = append(previews, fmt.Sprintf("%s: %s", item.Role, text))
			for _, line := range strings.Split(text, "\n") {
				line = strings.TrimSpace(line)
				if len(shellCommands) < 5 && strings.HasPrefix(line, "$") {
					shellCommands = append(shellCommands, line)
				} else if len(actionLines) < 5 && line != "" {
					actionLines = append(actionLines, line)
				}
			}
		case item.IsCall() || item.IsOutput():
			toolEvents++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Context compacted: %d items summarized, %d tool events]\n\n", len(items), toolEvents)
	b.WriteString(strings.Join(previews, "\n"))
	if len(shellCommands) > 0 {
		b.WriteString("\n\nShell commands:\n")
		for _, c := range shellCommands {
			b.WriteString("- " + c + "\n")
		}
	}
	if len(actionLines) > 0 {
		b.WriteString("\nActions:\n")
		for _, a := range actionLines {
			b.WriteString("- " + a + "\n")
		}
	}
	return b.String()
}
