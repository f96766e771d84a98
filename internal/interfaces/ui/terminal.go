package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/autodrive/autodrive/internal/domain/coordinator"
)

// Submitter pushes a command back onto the coordinator's queue.
// coordinator.Coordinator.Submit satisfies this.
type Submitter func(coordinator.Command)

// Terminal renders coordinator events to an interactive terminal and
// acknowledges each decision as soon as it has been fully printed, so a
// plain `autodrive <goal>` session satisfies the ACK-gating protocol
// without a detached UI process.
type Terminal struct {
	mu       sync.Mutex
	out      io.Writer
	renderer *Renderer
	submit   Submitter

	// streamingThinking tracks whether the last write was an unterminated
	// thinking delta, so the next non-thinking event starts on a fresh line.
	streamingThinking bool
}

// NewTerminal builds a terminal sink writing to out (os.Stdout if nil).
func NewTerminal(out io.Writer, width int, submit Submitter) *Terminal {
	if out == nil {
		out = os.Stdout
	}
	return &Terminal{
		out:      out,
		renderer: NewRenderer(width),
		submit:   submit,
	}
}

// Emit implements coordinator.EventSink.
func (t *Terminal) Emit(ev coordinator.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case coordinator.EventThinking:
		fmt.Fprint(t.out, t.renderer.RenderThinking(ev.ThinkingDelta))
		t.streamingThinking = true
		return

	case coordinator.EventDecision:
		t.breakThinking()
		if ev.Decision != nil {
			fmt.Fprintln(t.out, t.renderer.RenderDecision(decisionWire(ev.Decision)))
			if t.submit != nil {
				t.submit(coordinator.Command{Kind: coordinator.CmdAckDecision, Seq: ev.Decision.Seq})
			}
		}

	case coordinator.EventAction:
		t.breakThinking()
		fmt.Fprintln(t.out, "  "+ev.ActionMessage)

	case coordinator.EventUserReply:
		t.breakThinking()
		if ev.UserResponse != "" {
			fmt.Fprintln(t.out, t.renderer.RenderMarkdown(ev.UserResponse))
		}

	case coordinator.EventTokenMetrics:
		t.breakThinking()
		fmt.Fprintf(t.out, "  tokens: %d total, %d last turn, %d turns\n",
			ev.Metrics.Total.Total, ev.Metrics.LastTurn.Total, ev.Metrics.TurnCount)

	case coordinator.EventCompactedHistory:
		t.breakThinking()
		if ev.ShowNotice {
			fmt.Fprintf(t.out, "  history compacted to %d messages\n", len(ev.Conversation))
		}

	case coordinator.EventStopAck:
		t.breakThinking()
		fmt.Fprintln(t.out, "  stopped")

	case coordinator.EventDiagnosticAlert, coordinator.EventBudgetAlert, coordinator.EventInterventionRequired:
		t.breakThinking()
		fmt.Fprintln(t.out, t.renderer.RenderAlert(string(ev.Kind), ev.AlertMessage))

	default:
		// CheckpointSaved/CheckpointRestored need no terminal output.
	}
}

func (t *Terminal) breakThinking() {
	if t.streamingThinking {
		fmt.Fprintln(t.out)
		t.streamingThinking = false
	}
}
