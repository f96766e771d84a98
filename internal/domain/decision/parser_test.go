package decision

import (
	"strings"
	"testing"
)

func TestParseNewSchemaContinue(t *testing.T) {
	raw := `{"finish_status":"continue","status_title":"Coordinator: Working","prompt_sent_to_cli":"run the failing test suite","agents":[]}`
	d, rerr := Parse(raw)
	if rerr != nil {
		t.Fatalf("unexpected recoverable error: %v", rerr)
	}
	if d.Status != StatusContinue {
		t.Fatalf("expected continue, got %s", d.Status)
	}
	if d.StatusTitle != "Working" {
		t.Fatalf("expected prefix stripped, got %q", d.StatusTitle)
	}
	if d.CLI == nil || d.CLI.Prompt != "run the failing test suite" {
		t.Fatalf("unexpected cli request: %+v", d.CLI)
	}
}

func TestParseExtractsBalancedObject(t *testing.T) {
	raw := "here is the decision:\n```json\n{\"finish_status\":\"finish_success\",\"status_sent_to_user\":\"All tests pass now\"}\n```\nthanks"
	d, rerr := Parse(raw)
	if rerr != nil {
		t.Fatalf("unexpected recoverable error: %v", rerr)
	}
	if d.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", d.Status)
	}
}

func TestParseMissingCLIPromptOnContinue(t *testing.T) {
	raw := `{"finish_status":"continue","status_sent_to_user":"thinking"}`
	_, rerr := Parse(raw)
	if rerr == nil {
		t.Fatalf("expected recoverable error for missing cli prompt")
	}
}

func TestParseCLILengthCap(t *testing.T) {
	longPrompt := strings.Repeat("a", 601)
	raw := `{"finish_status":"continue","prompt_sent_to_cli":"` + longPrompt + `"}`
	_, rerr := Parse(raw)
	if rerr == nil || rerr.Summary != "length cap" {
		t.Fatalf("expected length cap recoverable error, got %v", rerr)
	}
	if !strings.Contains(rerr.Guidance, "<=600") {
		t.Fatalf("expected guidance to mention <=600, got %q", rerr.Guidance)
	}
}

func TestParseTooManyAgents(t *testing.T) {
	raw := `{"finish_status":"continue","prompt_sent_to_cli":"run the failing test suite","agents":[
		{"prompt":"investigate failure one please"},
		{"prompt":"investigate failure two please"},
		{"prompt":"investigate failure three please"},
		{"prompt":"investigate failure four please"},
		{"prompt":"investigate failure five please"},
		{"prompt":"investigate failure six please"}
	]}`
	_, rerr := Parse(raw)
	if rerr == nil || rerr.Summary != "too many agents" {
		t.Fatalf("expected too many agents error, got %v", rerr)
	}
}

func TestParseAgentsObjectForm(t *testing.T) {
	raw := `{
		"finish_status": "continue",
		"prompt_sent_to_cli": "apply the patch for the failing test",
		"agents": {
			"timing": "blocking",
			"models": ["codex-plan"],
			"list": [
				{"prompt": "draft an alternative fix", "context": "consider module B"},
				{"prompt": "review the current diff", "models": ["gpt-5"]}
			]
		}
	}`
	d, rerr := Parse(raw)
	if rerr != nil {
		t.Fatalf("unexpected recoverable error: %v", rerr)
	}
	if d.AgentsTiming != AgentsBlocking {
		t.Fatalf("expected blocking timing from the object form, got %q", d.AgentsTiming)
	}
	if len(d.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(d.Agents))
	}
	if got := d.Agents[0].Models; len(got) != 1 || got[0] != "codex-plan" {
		t.Fatalf("expected batch models to fill in, got %v", got)
	}
	if got := d.Agents[1].Models; len(got) != 1 || got[0] != "gpt-5" {
		t.Fatalf("expected per-request models to win over batch, got %v", got)
	}
}

func TestParseAgentsObjectFormAliases(t *testing.T) {
	for _, key := range []string{"requests", "list", "agents", "entries"} {
		raw := `{"finish_status":"continue","prompt_sent_to_cli":"keep going with the fix","agents":{"timing":"parallel","` + key + `":[{"prompt":"investigate the benchmark regression"}]}}`
		d, rerr := Parse(raw)
		if rerr != nil {
			t.Fatalf("alias %q: unexpected recoverable error: %v", key, rerr)
		}
		if len(d.Agents) != 1 || d.AgentsTiming != AgentsParallel {
			t.Fatalf("alias %q: got %d agents, timing %q", key, len(d.Agents), d.AgentsTiming)
		}
	}
}

func TestParseAgentsArrayHasNoTiming(t *testing.T) {
	raw := `{"finish_status":"continue","prompt_sent_to_cli":"run the failing test suite","agents":[{"prompt":"investigate the benchmark"}]}`
	d, rerr := Parse(raw)
	if rerr != nil {
		t.Fatalf("unexpected recoverable error: %v", rerr)
	}
	if d.AgentsTiming != "" {
		t.Fatalf("array form must not carry a timing, got %q", d.AgentsTiming)
	}
	if len(d.Agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(d.Agents))
	}
}

func TestParseLegacySchema(t *testing.T) {
	raw := `{"progress_past":"did x","progress_current":"doing y","cli_prompt":"run it"}`
	d, rerr := Parse(raw)
	if rerr != nil {
		t.Fatalf("unexpected recoverable error: %v", rerr)
	}
	if d.CLI == nil || d.CLI.Prompt != "run it" {
		t.Fatalf("unexpected legacy cli request: %+v", d.CLI)
	}
}

func TestParseLegacySchemaUnboundedPrompt(t *testing.T) {
	longPrompt := strings.Repeat("x", 1000)
	raw := `{"progress_current":"doing y","cli_prompt":"` + longPrompt + `"}`
	d, rerr := Parse(raw)
	if rerr != nil {
		t.Fatalf("legacy cli_prompt must not be length-bounded, got %v", rerr)
	}
	if len(d.CLI.Prompt) != 1000 {
		t.Fatalf("expected the full unbounded prompt preserved, got %d chars", len(d.CLI.Prompt))
	}
}

func TestParseUnexpectedFinishStatus(t *testing.T) {
	raw := `{"finish_status":"maybe","prompt_sent_to_cli":"run the failing test suite"}`
	_, rerr := Parse(raw)
	if rerr == nil || rerr.Summary != "unexpected finish_status" {
		t.Fatalf("expected unexpected finish_status error, got %v", rerr)
	}
}

func TestRoundTrip(t *testing.T) {
	raw := `{"finish_status":"continue","status_title":"Working","status_sent_to_user":"making progress on the fix","prompt_sent_to_cli":"run the failing test suite","agents":{"timing":"blocking","requests":[{"prompt":"investigate the flaky test"}]},"goal":""}`
	first, rerr := Parse(raw)
	if rerr != nil {
		t.Fatalf("unexpected recoverable error: %v", rerr)
	}
	wire, err := first.MarshalWire()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	second, rerr := Parse(string(wire))
	if rerr != nil {
		t.Fatalf("unexpected recoverable error on re-parse: %v", rerr)
	}
	if first.Status != second.Status || first.CLI.Prompt != second.CLI.Prompt || first.StatusTitle != second.StatusTitle {
		t.Fatalf("round trip mismatch: %+v vs %+v", first, second)
	}
	if first.AgentsTiming != second.AgentsTiming || len(first.Agents) != len(second.Agents) {
		t.Fatalf("agents round trip mismatch: %+v vs %+v", first, second)
	}
}

func TestCleanModels(t *testing.T) {
	got := CleanModels([]string{"  GPT-5 ", "", "gpt-5", "Claude"})
	want := []string{"Claude", "GPT-5"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if !strings.EqualFold(got[i], want[i]) {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
