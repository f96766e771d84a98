package agentmgr

import "context"

// DispatchRunner routes each agent to CloudRunner or ProcessRunner by
// family, so Manager can be constructed with a single Runner regardless
// of which families a given deployment actually uses.
type DispatchRunner struct {
	Cloud   *CloudRunner
	Process *ProcessRunner
}

func NewDispatchRunner(cloud *CloudRunner, process *ProcessRunner) *DispatchRunner {
	return &DispatchRunner{Cloud: cloud, Process: process}
}

func (d *DispatchRunner) Run(ctx context.Context, agent *Agent, progress func(string)) (string, error) {
	if agent.Family == FamilyCloud {
		return d.Cloud.Run(ctx, agent, progress)
	}
	return d.Process.Run(ctx, agent, progress)
}
