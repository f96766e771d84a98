package ui

import (
	"encoding/json"
	"testing"

	"github.com/autodrive/autodrive/internal/domain/coordinator"
	"github.com/autodrive/autodrive/internal/domain/decision"
)

func TestToEnvelope_Decision(t *testing.T) {
	ev := coordinator.Event{
		Kind: coordinator.EventDecision,
		Decision: &coordinator.PendingDecision{
			Seq: 7,
			Decision: &decision.CoordinatorDecision{
				Status:           decision.StatusContinue,
				StatusTitle:      "Working",
				StatusSentToUser: "Still going.",
				CLI:              &decision.CLIRequest{Prompt: "run the tests"},
				AgentsTiming:     decision.AgentsParallel,
				Agents: []decision.AgentAction{
					{Prompt: "review the diff carefully", Write: false, OriginalWrite: true},
				},
			},
		},
	}

	env := ToEnvelope(ev)
	if env.Kind != "decision" {
		t.Fatalf("kind: got %q", env.Kind)
	}
	if env.Decision == nil {
		t.Fatal("decision wire missing")
	}
	if env.Decision.Seq != 7 {
		t.Errorf("seq: got %d", env.Decision.Seq)
	}
	if env.Decision.CLIPrompt != "run the tests" {
		t.Errorf("cli prompt: got %q", env.Decision.CLIPrompt)
	}
	if len(env.Decision.Agents) != 1 {
		t.Fatalf("agents: got %d", len(env.Decision.Agents))
	}
	if !env.Decision.Agents[0].RequestedWrite || env.Decision.Agents[0].Write {
		t.Errorf("write guard projection lost: %+v", env.Decision.Agents[0])
	}
}

func TestMarshalEnvelope_RoundTrip(t *testing.T) {
	ev := coordinator.Event{
		Kind:          coordinator.EventAction,
		ActionMessage: "spawned 2 agents",
	}
	data, err := MarshalEnvelope(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Envelope
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Kind != "action" || back.ActionMessage != "spawned 2 agents" {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestInbound_ToCommand(t *testing.T) {
	tests := []struct {
		name     string
		in       Inbound
		wantKind coordinator.CommandKind
		wantOK   bool
	}{
		{"ack", Inbound{Kind: InboundAck, Seq: 3}, coordinator.CmdAckDecision, true},
		{"stop", Inbound{Kind: InboundStop}, coordinator.CmdStop, true},
		{"ping is not a command", Inbound{Kind: InboundPing}, "", false},
		{"unknown", Inbound{Kind: "bogus"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok := tt.in.ToCommand()
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if ok && cmd.Kind != tt.wantKind {
				t.Errorf("kind: got %q, want %q", cmd.Kind, tt.wantKind)
			}
			if tt.in.Kind == InboundAck && cmd.Seq != 3 {
				t.Errorf("seq not carried: %+v", cmd)
			}
		})
	}
}
