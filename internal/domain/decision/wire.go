package decision

import "encoding/json"

// MarshalWire serializes a CoordinatorDecision back to the new-schema
// wire shape, so parse-serialize-parse round-trips to an equal value.
// Agents serialize as the bare array unless a batch timing is set, in
// which case the object form `{timing, requests}` carries it.
func (d *CoordinatorDecision) MarshalWire() ([]byte, error) {
	w := newSchemaWire{
		FinishStatus:     string(d.Status),
		StatusTitle:      d.StatusTitle,
		StatusSentToUser: d.StatusSentToUser,
		Goal:             d.Goal,
	}
	if d.CLI != nil {
		w.PromptSentToCLI = d.CLI.Prompt
		w.CLIContext = d.CLI.Context
		w.SuppressUICtx = d.CLI.SuppressUIContext
	}
	if len(d.Agents) > 0 {
		agents := make([]agentWire, 0, len(d.Agents))
		for _, a := range d.Agents {
			agents = append(agents, agentWire{
				Prompt:  a.Prompt,
				Context: a.Context,
				Write:   a.Write,
				Models:  a.Models,
			})
		}
		var payload any = agents
		if d.AgentsTiming != "" {
			payload = map[string]any{
				"timing":   string(d.AgentsTiming),
				"requests": agents,
			}
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		w.Agents = raw
	}
	return json.Marshal(w)
}
