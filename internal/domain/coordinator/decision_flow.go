package coordinator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/autodrive/autodrive/internal/domain/decision"
	"github.com/autodrive/autodrive/internal/domain/history"
	"github.com/autodrive/autodrive/internal/domain/metrics"
)

// requestDecisionWithRecovery is the malformed-decision recovery loop:
// up to decision.MaxDecisionRecoveryAttempts consecutive recoverable
// parse failures are absorbed by appending the raw response and a
// developer note, then retrying immediately (not through RetryEngine,
// since a recoverable error consumed no network retry budget).
//
// A nil, nil return means the terminal Failed decision has already been
// emitted and the caller (and Run's loop) must stop.
func (c *Coordinator) requestDecisionWithRecovery(ctx context.Context, _ bool) (*decision.CoordinatorDecision, error) {
	for {
		req := c.buildDecisionRequest()
		raw, _, err := c.streamWithRetry(ctx, req)
		if err != nil {
			return nil, err
		}

		d, rerr := decision.Parse(raw)
		if rerr == nil {
			c.recoveryAttempts = 0
			return d, nil
		}

		c.recoveryAttempts++
		if c.recoveryAttempts > decision.MaxDecisionRecoveryAttempts {
			c.recoveryAttempts = 0
			c.emitDecision(&decision.CoordinatorDecision{
				Status:           decision.StatusFailed,
				StatusTitle:      "Coordinator error",
				StatusSentToUser: fmt.Sprintf("Encountered an error: %s", rerr.Error()),
			})
			c.terminalFailure = true
			return nil, nil
		}

		c.hist = append(c.hist, history.NewMessage(history.RoleAssistant, history.OutputText(raw)))
		c.hist = append(c.hist, history.NewMessage(history.RoleDeveloper, history.InputText(
			fmt.Sprintf("Decision validation failed (%s): %s", rerr.Summary, rerr.Guidance),
		)))
		c.sink.Emit(Event{Kind: EventCompactedHistory, Conversation: toView(c.hist), ShowNotice: false})
	}
}

// buildDecisionRequest assembles the ModelRequest for a normal
// (non-user-reply) turn, switching the instructions between the
// derive-goal and fixed-goal schema.
func (c *Coordinator) buildDecisionRequest() ModelRequest {
	instructions := c.cfg.BaseInstructions
	if c.deriveGoal {
		instructions += "\n\nNo goal has been established yet; include a non-empty \"goal\" field summarizing the user's overall objective."
	}
	return ModelRequest{
		Model:           c.cfg.Model,
		Instructions:    instructions,
		Input:           c.hist,
		ReasoningEffort: c.cfg.ReasoningEffort,
		PromptCacheKey:  c.cfg.PromptCacheKey,
	}
}

type streamResult struct {
	text  string
	usage *ModelUsage
}

// streamWithRetry drives one ModelStreamer.Stream call through
// RetryEngine, accumulating output-text deltas into the raw decision
// text and forwarding Thinking events to the UI as they arrive. Returns the accumulated text and the terminal usage, or the
// error RetryEngine gave up on (Fatal verdict, deadline, or Aborted).
func (c *Coordinator) streamWithRetry(ctx context.Context, req ModelRequest) (string, *ModelUsage, error) {
	attempt := func(ctx context.Context) (any, error) {
		var sb strings.Builder
		var usage *ModelUsage

		streamErr := c.model.Stream(ctx, req, func(ev ModelEvent) {
			switch ev.Kind {
			case ModelEventOutputTextDelta:
				sb.WriteString(ev.Delta)
				c.sink.Emit(Event{Kind: EventThinking, ThinkingDelta: ev.Delta})
			case ModelEventReasoningSummaryDelta:
				idx := ev.SummaryIndex
				c.sink.Emit(Event{Kind: EventThinking, ThinkingDelta: ev.Delta, ThinkingSummaryIndex: &idx})
			case ModelEventCompleted:
				usage = ev.Usage
			}
		})
		if streamErr != nil {
			return nil, streamErr
		}
		return streamResult{text: sb.String(), usage: usage}, nil
	}

	onThinking := func(msg string) {
		c.sink.Emit(Event{Kind: EventThinking, ThinkingDelta: msg})
	}

	result, err := c.retry.Run(ctx, attempt, onThinking)
	if err != nil {
		return "", nil, err
	}

	sr, ok := result.(streamResult)
	if !ok {
		return "", nil, fmt.Errorf("coordinator: unexpected stream result type %T", result)
	}

	if sr.usage != nil && c.sessMx != nil {
		c.sessMx.RecordTurn(metrics.TokenUsage{
			Input:           sr.usage.Input,
			CachedInput:     sr.usage.CachedInput,
			Output:          sr.usage.Output,
			ReasoningOutput: sr.usage.ReasoningOutput,
			Total:           sr.usage.Total,
		})
		c.sink.Emit(Event{Kind: EventTokenMetrics, Metrics: c.sessMx.Snapshot()})
	}

	c.logger.Debug("coordinator: turn completed", zap.Int("raw_len", len(sr.text)))
	return sr.text, sr.usage, nil
}
