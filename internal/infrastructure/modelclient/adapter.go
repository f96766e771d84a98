package modelclient

import (
	"context"

	"github.com/autodrive/autodrive/internal/domain/coordinator"
)

// CoordinatorAdapter implements coordinator.ModelStreamer over a Client,
// translating coordinator.ModelRequest/Event to/from Request/Event. Kept
// here (not in the coordinator package) so the domain layer never imports
// this infrastructure package directly; see coordinator/modelstreamer.go.
type CoordinatorAdapter struct {
	client *Client
	tools  []Tool
}

// NewCoordinatorAdapter wraps client as a coordinator.ModelStreamer.
func NewCoordinatorAdapter(client *Client) *CoordinatorAdapter {
	return &CoordinatorAdapter{client: client}
}

// WithAgentTool attaches the `agent` tool to every request
// this adapter sends. parameters comes from agentmgr.ToolSchema.
func (a *CoordinatorAdapter) WithAgentTool(parameters map[string]any) *CoordinatorAdapter {
	a.tools = append(a.tools, Tool{
		Type:        "function",
		Name:        "agent",
		Description: "Create, inspect, await, and cancel parallel sub-agents.",
		Parameters:  parameters,
	})
	return a
}

// Stream implements coordinator.ModelStreamer.
func (a *CoordinatorAdapter) Stream(ctx context.Context, req coordinator.ModelRequest, emit func(coordinator.ModelEvent)) error {
	wireReq := Request{
		Model:             req.Model,
		Instructions:      req.Instructions,
		Input:             req.Input,
		Tools:             a.tools,
		ToolChoice:        "auto",
		ParallelToolCalls: true,
		Store:             false,
		Stream:            true,
		PromptCacheKey:    req.PromptCacheKey,
	}
	if req.ReasoningEffort != "" {
		wireReq.Reasoning = &Reasoning{Effort: req.ReasoningEffort, Summary: "auto"}
		wireReq.Include = []string{"reasoning.encrypted_content"}
	}

	return a.client.Stream(ctx, wireReq, func(ev Event) {
		emit(translateEvent(ev))
	})
}

func translateEvent(ev Event) coordinator.ModelEvent {
	out := coordinator.ModelEvent{
		Delta:        ev.Delta,
		SummaryIndex: ev.SummaryIndex,
		Item:         ev.Item,
	}
	switch ev.Kind {
	case EventOutputTextDelta:
		out.Kind = coordinator.ModelEventOutputTextDelta
	case EventReasoningSummaryDelta:
		out.Kind = coordinator.ModelEventReasoningSummaryDelta
	case EventReasoningContentDelta:
		out.Kind = coordinator.ModelEventReasoningContentDelta
	case EventOutputItemDone:
		out.Kind = coordinator.ModelEventOutputItemDone
	case EventCompleted:
		out.Kind = coordinator.ModelEventCompleted
		if ev.Usage != nil {
			out.Usage = &coordinator.ModelUsage{
				Input:           ev.Usage.InputTokens,
				CachedInput:     ev.Usage.CachedTokens,
				Output:          ev.Usage.OutputTokens,
				ReasoningOutput: ev.Usage.ReasoningTokens,
				Total:           ev.Usage.TotalTokens,
			}
		}
	}
	return out
}
