package agentmgr

import (
	"errors"
	"reflect"
	"testing"
)

func TestResolveExecutableExternalNotFound(t *testing.T) {
	orig := ExternalLookup
	defer func() { ExternalLookup = orig }()
	ExternalLookup = func(string) (string, error) { return "", errors.New("not found") }

	_, err := ResolveExecutable(FamilyClaude, "")
	var notFound *AgentNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected AgentNotFoundError, got %v", err)
	}
}

func TestResolveExecutableBuiltinUsesSelf(t *testing.T) {
	path, err := ResolveExecutable(FamilyCode, "/usr/local/bin/autodrive")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/usr/local/bin/autodrive" {
		t.Fatalf("got %q", path)
	}
}

func TestStripModelFlags(t *testing.T) {
	in := []string{"--verbose", "--model", "gpt-5", "-m", "x", "--model=foo", "--keep"}
	got := StripModelFlags(in)
	want := []string{"--verbose", "--keep"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestClampReasoningEffort(t *testing.T) {
	if got := ClampReasoningEffort(EffortXHigh, "gpt-5"); got != EffortHigh {
		t.Fatalf("expected clamp to high, got %s", got)
	}
	if got := ClampReasoningEffort(EffortXHigh, "gpt-5-max"); got != EffortXHigh {
		t.Fatalf("expected max model to keep xhigh, got %s", got)
	}
	if got := ClampReasoningEffort(EffortMedium, "gpt-5"); got != EffortMedium {
		t.Fatalf("expected untouched, got %s", got)
	}
}

func TestBuildArgsInjectsReasoningEffort(t *testing.T) {
	args := BuildArgs(FamilyCodex, "gpt-5", EffortHigh, []string{"--model", "old", "--keep"})
	joined := ""
	for _, a := range args {
		joined += a + " "
	}
	if !contains(args, "-c") || !contains(args, "model_reasoning_effort=high") {
		t.Fatalf("expected reasoning effort flag, got %v (%s)", args, joined)
	}
	if contains(args, "old") {
		t.Fatalf("expected stripped --model old, got %v", args)
	}
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func TestBuildEnvCrossPollinatesCredentials(t *testing.T) {
	env := BuildEnv([]string{"GEMINI_API_KEY=abc"}, FamilyGemini, "")
	m := toMap(env)
	if m["GOOGLE_API_KEY"] != "abc" {
		t.Fatalf("expected GOOGLE_API_KEY cross-pollinated, got %v", m)
	}
}

func TestBuildEnvQwenZeroesOpenAIKey(t *testing.T) {
	env := BuildEnv([]string{"OPENAI_API_KEY=secret", "QWEN_API_KEY=q"}, FamilyQwen, "")
	m := toMap(env)
	if m["OPENAI_API_KEY"] != "" {
		t.Fatalf("expected OPENAI_API_KEY zeroed, got %q", m["OPENAI_API_KEY"])
	}
}

func toMap(env []string) map[string]string {
	m := make(map[string]string)
	for _, kv := range env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}
