package agentmgr

// ToolSchema builds the JSON-schema parameters of the single `agent`
// tool exposed to the reasoning model: an `action` discriminator with a
// parallel parameter object per action, where create.models is
// constrained by a dynamic enum of the enabled agent names.
func ToolSchema(enabledModels []string) map[string]any {
	models := map[string]any{
		"type":        "array",
		"description": "Models to run this agent on; one sub-agent is spawned per entry.",
		"items":       map[string]any{"type": "string"},
	}
	if len(enabledModels) > 0 {
		enum := make([]any, 0, len(enabledModels))
		for _, m := range enabledModels {
			enum = append(enum, m)
		}
		models["items"] = map[string]any{"type": "string", "enum": enum}
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []any{"create", "status", "wait", "result", "cancel", "list"},
			},
			"create": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"prompt":  map[string]any{"type": "string", "description": "Task for the agent, 8-400 characters."},
					"context": map[string]any{"type": "string", "description": "Extra background handed to the agent verbatim."},
					"write":   map[string]any{"type": "boolean", "description": "Allow file modifications (runs in an isolated git worktree)."},
					"models":  models,
				},
				"required": []any{"prompt"},
			},
			"status": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent_id": map[string]any{"type": "string"},
				},
				"required": []any{"agent_id"},
			},
			"wait": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent_ids":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"timeout_seconds": map[string]any{"type": "integer"},
					"return_all":      map[string]any{"type": "boolean"},
				},
				"required": []any{"agent_ids"},
			},
			"result": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent_id": map[string]any{"type": "string"},
				},
				"required": []any{"agent_id"},
			},
			"cancel": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent_id": map[string]any{"type": "string"},
					"batch_id": map[string]any{"type": "string"},
				},
			},
			"list": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"batch_id": map[string]any{"type": "string"},
				},
			},
		},
		"required": []any{"action"},
	}
}
