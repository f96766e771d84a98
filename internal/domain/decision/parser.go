package decision

import "encoding/json"

// MaxDecisionRecoveryAttempts bounds how many consecutive recoverable
// parse failures the coordinator will absorb before emitting a fatal
// Failed decision.
const MaxDecisionRecoveryAttempts = 3

// newSchemaWire is the current wire shape emitted by the model. Batch
// timing is not a top-level field; it only arrives as the `timing` key
// of the object-form agents payload.
type newSchemaWire struct {
	FinishStatus     string          `json:"finish_status"`
	StatusTitle      string          `json:"status_title"`
	StatusSentToUser string          `json:"status_sent_to_user"`
	PromptSentToCLI  string          `json:"prompt_sent_to_cli"`
	CLIContext       string          `json:"cli_context"`
	SuppressUICtx    bool            `json:"suppress_ui_context"`
	Agents           json.RawMessage `json:"agents"`
	Goal             string          `json:"goal"`
}

// legacySchemaWire is the deprecated shape still emitted by older model
// checkpoints. Its cli_prompt field has never had a length bound;
// that behavior is kept as-is.
type legacySchemaWire struct {
	ProgressPast    string `json:"progress_past"`
	ProgressCurrent string `json:"progress_current"`
	CLIContext      string `json:"cli_context"`
	CLIPrompt       string `json:"cli_prompt"`
}

type agentWire struct {
	Prompt  string   `json:"prompt"`
	Context string   `json:"context"`
	Write   bool     `json:"write"`
	Models  []string `json:"models"`
}

// agentsObjectWire is the object form of the agents field: a batch plan
// with a shared timing, optional batch-level models, and the request
// list under any of its accepted key aliases.
type agentsObjectWire struct {
	Timing   string          `json:"timing"`
	Models   []string        `json:"models"`
	Requests json.RawMessage `json:"requests"`
	List     json.RawMessage `json:"list"`
	Agents   json.RawMessage `json:"agents"`
	Entries  json.RawMessage `json:"entries"`
}

func (w agentsObjectWire) requestList() json.RawMessage {
	for _, raw := range []json.RawMessage{w.Requests, w.List, w.Agents, w.Entries} {
		if len(raw) > 0 {
			return raw
		}
	}
	return nil
}

// Parse decodes raw model output into a validated CoordinatorDecision.
// It first attempts a direct JSON decode; failing that, it extracts the
// first balanced {...} object from the text and retries. It then tries
// the new schema and falls back to the legacy schema. A non-nil
// RecoverableError means the coordinator should run its recovery loop,
// not abort the run.
func Parse(raw string) (*CoordinatorDecision, *RecoverableError) {
	body := raw
	if !json.Valid([]byte(body)) {
		extracted, ok := ExtractBalancedObject(raw)
		if !ok {
			return nil, ClassifyParseError("unexpected end of JSON input")
		}
		body = extracted
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return nil, ClassifyParseError(err.Error())
	}

	if _, isNew := probe["finish_status"]; isNew {
		return parseNewSchema([]byte(body))
	}
	if _, isLegacy := probe["cli_prompt"]; isLegacy {
		return parseLegacySchema([]byte(body))
	}
	return nil, ClassifyParseError("unexpected finish_status")
}

func parseNewSchema(body []byte) (*CoordinatorDecision, *RecoverableError) {
	var w newSchemaWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, ClassifyParseError(err.Error())
	}

	d := &CoordinatorDecision{
		Status:           Status(trimSpace(toLower(w.FinishStatus))),
		StatusTitle:      StripPrefixes(w.StatusTitle),
		StatusSentToUser: StripPrefixes(w.StatusSentToUser),
		Goal:             StripPrefixes(w.Goal),
	}

	if prompt, ok := CleanOptional(w.PromptSentToCLI); ok {
		d.CLI = &CLIRequest{
			Prompt:            prompt,
			Context:           StripPrefixes(w.CLIContext),
			SuppressUIContext: w.SuppressUICtx,
		}
	}

	agents, timing, rerr := parseAgents(w.Agents)
	if rerr != nil {
		return nil, rerr
	}
	d.Agents = agents
	d.AgentsTiming = timing

	if rerr := d.Validate(); rerr != nil {
		return nil, rerr
	}
	return d, nil
}

// parseAgents accepts the agents field as either a JSON array of agent
// requests or a batch-plan object `{timing, models, requests|list|
// agents|entries}`. Only the object form carries a timing; batch-level
// models fill in for any request that names none of its own.
func parseAgents(raw json.RawMessage) ([]AgentAction, AgentsTiming, *RecoverableError) {
	if len(raw) == 0 {
		return nil, "", nil
	}

	var list []agentWire
	if err := json.Unmarshal(raw, &list); err == nil {
		return toAgentActions(list, nil), "", nil
	}

	var plan agentsObjectWire
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, "", ClassifyParseError("malformed json")
	}

	timing := AgentsTiming("")
	switch AgentsTiming(trimSpace(toLower(plan.Timing))) {
	case AgentsParallel:
		timing = AgentsParallel
	case AgentsBlocking:
		timing = AgentsBlocking
	}

	requestsRaw := plan.requestList()
	if len(requestsRaw) == 0 {
		return nil, timing, nil
	}
	var requests []agentWire
	if err := json.Unmarshal(requestsRaw, &requests); err != nil {
		return nil, "", ClassifyParseError("malformed json")
	}
	return toAgentActions(requests, CleanModels(plan.Models)), timing, nil
}

func toAgentActions(wire []agentWire, batchModels []string) []AgentAction {
	out := make([]AgentAction, 0, len(wire))
	for _, w := range wire {
		models := CleanModels(w.Models)
		if len(models) == 0 {
			models = batchModels
		}
		out = append(out, AgentAction{
			Prompt:        StripPrefixes(w.Prompt),
			Context:       StripPrefixes(w.Context),
			Write:         w.Write,
			OriginalWrite: w.Write,
			Models:        models,
		})
	}
	return out
}

// parseLegacySchema maps the deprecated shape onto CoordinatorDecision.
// The legacy cli_prompt field is preserved without a length bound,
// matching what older checkpoints were validated against.
func parseLegacySchema(body []byte) (*CoordinatorDecision, *RecoverableError) {
	var w legacySchemaWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, ClassifyParseError(err.Error())
	}

	d := &CoordinatorDecision{
		Status:           StatusContinue,
		StatusSentToUser: StripPrefixes(w.ProgressCurrent),
	}
	if prompt, ok := CleanOptional(w.CLIPrompt); ok {
		d.CLI = &CLIRequest{
			Prompt:  prompt,
			Context: StripPrefixes(w.CLIContext),
		}
	} else {
		return nil, newRecoverable("missing field", "a continue decision must include cli_prompt")
	}
	return d, nil
}

// ExtractBalancedObject scans s for the first top-level balanced
// {...} object, tracking string/escape state so braces inside string
// literals do not confuse the scan.
func ExtractBalancedObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, r := range s {
		if start == -1 {
			if r == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
