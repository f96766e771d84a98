package agentmgr

import (
	"context"
	"strings"
	"time"
)

// SmokeTestPrompt is sent to a freshly configured agent family to
// confirm the executable, model, and credentials actually work before
// it is offered to the coordinator.
const SmokeTestPrompt = `Reply only with the string "ok" and nothing else. Do not explain, do not use tools, do not add punctuation.`

// SmokeTestTimeout bounds how long a smoke test may run.
const SmokeTestTimeout = 20 * time.Second

// SmokeTestAgent runs a trivial prompt through runner and reports
// whether the family/model/credential combination is usable.
func SmokeTestAgent(ctx context.Context, runner Runner, family Family, model string) error {
	ctx, cancel := context.WithTimeout(ctx, SmokeTestTimeout)
	defer cancel()

	probe := &Agent{
		ID:       "smoketest",
		Name:     "Smoke Test",
		Model:    model,
		Family:   family,
		Prompt:   SmokeTestPrompt,
		ReadOnly: true,
		Status:   StatusPending,
	}

	result, err := runner.Run(ctx, probe, func(string) {})
	if err != nil {
		return err
	}
	if strings.ToLower(strings.TrimSpace(result)) != "ok" {
		return &SmokeTestFailedError{Family: family, Model: model, Got: result}
	}
	return nil
}

// SmokeTestFailedError reports an agent that ran but did not answer
// with the expected sentinel, usually a misconfigured model/CLI.
type SmokeTestFailedError struct {
	Family Family
	Model  string
	Got    string
}

func (e *SmokeTestFailedError) Error() string {
	return "smoke test for " + string(e.Family) + "/" + e.Model + " got unexpected reply: " + e.Got
}
