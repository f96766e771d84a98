package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/autodrive/autodrive/internal/domain/decision"
)

var (
	colorGreen  = lipgloss.Color("#5FD787")
	colorCyan   = lipgloss.Color("#5FD7FF")
	colorYellow = lipgloss.Color("#FFD75F")
	colorRed    = lipgloss.Color("#FF5F5F")
	colorGray   = lipgloss.Color("#808080")
)

// Renderer handles all terminal output rendering: decision banners,
// markdown status text, thinking streams.
type Renderer struct {
	glamour *glamour.TermRenderer
	width   int
}

// NewRenderer creates a renderer with the given terminal width.
func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	return &Renderer{
		glamour: r,
		width:   width,
	}
}

// RenderMarkdown renders markdown text to styled terminal output.
func (r *Renderer) RenderMarkdown(md string) string {
	if r.glamour == nil {
		return md
	}
	out, err := r.glamour.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}

// RenderDecision renders one decision banner: status icon, title, the
// user-facing status text (markdown), and any sub-agent summary.
func (r *Renderer) RenderDecision(w *DecisionWire) string {
	var b strings.Builder

	var icon string
	switch w.Status {
	case string(decision.StatusContinue):
		icon = lipgloss.NewStyle().Foreground(colorCyan).Bold(true).Render("▶")
	case string(decision.StatusSuccess):
		icon = lipgloss.NewStyle().Foreground(colorGreen).Bold(true).Render("✓")
	default:
		icon = lipgloss.NewStyle().Foreground(colorRed).Bold(true).Render("✗")
	}

	title := w.StatusTitle
	if title == "" {
		title = w.Status
	}
	titleStyle := lipgloss.NewStyle().Bold(true)
	seqStyle := lipgloss.NewStyle().Foreground(colorGray)
	fmt.Fprintf(&b, "%s %s %s\n", icon, titleStyle.Render(title), seqStyle.Render(fmt.Sprintf("#%d", w.Seq)))

	if w.StatusSentToUser != "" {
		b.WriteString(indent(r.RenderMarkdown(w.StatusSentToUser), "  "))
		b.WriteString("\n")
	}
	if w.CLIPrompt != "" {
		promptStyle := lipgloss.NewStyle().Foreground(colorGray)
		b.WriteString(indent(promptStyle.Render("cli: "+truncateLine(w.CLIPrompt, r.width-10)), "  "))
		b.WriteString("\n")
	}
	for _, a := range w.Agents {
		mode := "ro"
		if a.Write {
			mode = "rw"
		}
		agentStyle := lipgloss.NewStyle().Foreground(colorYellow)
		fmt.Fprintf(&b, "  %s %s\n", agentStyle.Render("agent["+mode+"]"), truncateLine(a.Prompt, r.width-14))
	}
	return b.String()
}

// RenderAlert renders a diagnostic/budget/intervention alert line.
func (r *Renderer) RenderAlert(kind, msg string) string {
	style := lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	return fmt.Sprintf("%s %s", style.Render("! "+kind), msg)
}

// RenderThinking renders a retry/progress line in muted styling.
func (r *Renderer) RenderThinking(delta string) string {
	return lipgloss.NewStyle().Foreground(colorGray).Render(delta)
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if max < 8 {
		max = 8
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
