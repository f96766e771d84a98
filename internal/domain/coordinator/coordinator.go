package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/autodrive/autodrive/internal/domain/agentmgr"
	"github.com/autodrive/autodrive/internal/domain/compaction"
	"github.com/autodrive/autodrive/internal/domain/decision"
	"github.com/autodrive/autodrive/internal/domain/history"
	"github.com/autodrive/autodrive/internal/domain/metrics"
	"github.com/autodrive/autodrive/internal/domain/retry"
)

// Config carries the per-run tunables.
type Config struct {
	Model           string
	ReasoningEffort string
	PromptCacheKey  string
	ModelBudget     compaction.ModelBudget

	// GitRepoPresent drives the write-guard invariant: every emitted
	// AgentAction.Write is forced false when the working directory is
	// not a git repo.
	GitRepoPresent bool

	// InitialGoal and AgentsEnabled together gate the initial planning
	// seed: when both are set, the coordinator's first
	// decision is synthesized locally instead of calling the model.
	InitialGoal    string
	AgentsEnabled  bool
	PlanningPrompt string

	// BaseInstructions is the system/developer instructions prefix sent
	// on every model request; UserReplyInstructions is the distinct
	// schema used for HandleUserPrompt turns.
	BaseInstructions      string
	UserReplyInstructions string
}

// Coordinator is the single-threaded orchestration state machine.
// All mutable state (history, goal, pending
// decision, replay queue, sequence counter) is owned by the goroutine
// running Run; external drivers only ever push Commands onto the queue.
type Coordinator struct {
	cfg Config

	model     ModelStreamer
	retry     *retry.Engine
	compactor *compaction.Engine
	agents    *agentmgr.Manager
	sessMx    *metrics.SessionMetrics
	sink      EventSink
	logger    *zap.Logger

	cmds chan Command

	// Owned exclusively by the Run goroutine; no lock needed for the
	// fields below except where explicitly noted, since every mutation
	// happens on Run's single thread; no lock is ever held across a
	// suspension point.
	hist             history.History
	goal             history.ResponseItem
	goalKnown        bool
	goalFrozen       bool
	deriveGoal       bool
	seq              uint64
	pending          *PendingDecision
	queuedUpdates    []history.History
	recoveryAttempts int
	terminalFailure  bool
}

// New constructs a Coordinator. deriveGoal starts true when cfg.InitialGoal
// is empty, i.e. the loop started without a user goal and must extract
// one from the model's first `goal` field.
func New(cfg Config, model ModelStreamer, retryEngine *retry.Engine, compactor *compaction.Engine, agents *agentmgr.Manager, sessMx *metrics.SessionMetrics, sink EventSink, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NopSink{}
	}
	c := &Coordinator{
		cfg:       cfg,
		model:     model,
		retry:     retryEngine,
		compactor: compactor,
		agents:    agents,
		sessMx:    sessMx,
		sink:      sink,
		logger:    logger,
		cmds:      make(chan Command, 64),
	}
	if cfg.InitialGoal != "" {
		c.goal = history.NewUserMessage(cfg.InitialGoal)
		c.goalKnown = true
		c.goalFrozen = true
		c.deriveGoal = false
	} else {
		c.deriveGoal = true
	}
	return c
}

// Submit enqueues a command for the coordinator's Run loop. Safe to call
// from any goroutine.
func (c *Coordinator) Submit(cmd Command) {
	c.cmds <- cmd
}

// Run drives the coordinator until ctx is cancelled or a Stop command is
// processed. It is meant to be the only goroutine that ever reads or
// mutates c's history/goal/pending state.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.cfg.InitialGoal != "" && c.cfg.AgentsEnabled {
		c.seedInitialDecision()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.cmds:
			if done := c.handle(ctx, cmd); done {
				return nil
			}
		}
	}
}

// seedInitialDecision synthesizes the first decision locally so
// progress is visible to the UI before the first real model call.
func (c *Coordinator) seedInitialDecision() {
	d := &decision.CoordinatorDecision{
		Status:           decision.StatusContinue,
		StatusTitle:      "Planning",
		StatusSentToUser: "Starting up and planning the first steps.",
		CLI: &decision.CLIRequest{
			Prompt: c.cfg.PlanningPrompt,
		},
		// Blocking on the first turn, so a sub-agent batch requested
		// while planning cannot race the worker CLI's first run.
		AgentsTiming: decision.AgentsBlocking,
	}
	c.emitDecision(d)
}

// handle processes one Command and returns true if the coordinator
// should stop.
func (c *Coordinator) handle(ctx context.Context, cmd Command) bool {
	switch cmd.Kind {
	case CmdStop:
		c.pending = nil
		c.queuedUpdates = nil
		c.sink.Emit(Event{Kind: EventStopAck})
		return true

	case CmdAckDecision:
		c.handleAck(ctx, cmd.Seq)
		return c.terminalFailure

	case CmdUpdateConversation:
		if c.pending != nil {
			// Single-pending-decision invariant: queue for FIFO replay
			// after the outstanding decision is acknowledged.
			c.queuedUpdates = append(c.queuedUpdates, cmd.Transcript)
			return false
		}
		c.processUpdate(ctx, cmd.Transcript)
		return c.terminalFailure

	case CmdHandleUserPrompt:
		c.processUserPrompt(ctx, cmd.UserConversation)
		return false

	default:
		c.logger.Warn("coordinator: unknown command kind", zap.String("kind", string(cmd.Kind)))
		return false
	}
}

// handleAck clears the pending slot on a matching seq, then drains one
// queued UpdateConversation (if any) in FIFO order, counting it as a
// replay.
func (c *Coordinator) handleAck(ctx context.Context, seq uint64) {
	if c.pending == nil || c.pending.Seq != seq {
		c.logger.Warn("coordinator: ack for non-pending seq", zap.Uint64("seq", seq))
		return
	}
	c.pending = nil

	if len(c.queuedUpdates) == 0 {
		return
	}
	next := c.queuedUpdates[0]
	c.queuedUpdates = c.queuedUpdates[1:]
	if c.sessMx != nil {
		c.sessMx.RecordReplayUpdate()
	}
	c.processUpdate(ctx, next)
}

// processUpdate implements the Idle -> MaybeCompact -> CallModel ->
// EmitDecision path of the turn state machine.
func (c *Coordinator) processUpdate(ctx context.Context, transcript history.History) {
	c.adoptTranscript(transcript)
	c.maybeCompact(ctx)

	d, err := c.requestDecisionWithRecovery(ctx, false)
	if err != nil {
		c.logger.Error("coordinator: decision request failed", zap.Error(err))
		c.emitDecision(&decision.CoordinatorDecision{
			Status:           decision.StatusFailed,
			StatusTitle:      "Coordinator error",
			StatusSentToUser: fmt.Sprintf("Encountered an error: %s", err.Error()),
		})
		return
	}
	if d == nil {
		// Recovery attempts exhausted; requestDecisionWithRecovery already
		// emitted the terminal Failed decision.
		return
	}

	c.applyWriteGuard(d)
	c.applyGoalExtraction(d)
	c.spawnAgents(ctx, d)
	c.emitDecision(d)
}

// processUserPrompt implements HandleUserPrompt -> CallUserSchema ->
// EmitDecision(UserReply). This path is not ACK-gated: UserReply is not
// a CoordinatorDecision, so it does not consume the single pending slot.
func (c *Coordinator) processUserPrompt(ctx context.Context, conversation history.History) {
	input := conversation.StripPopularCommands()
	req := ModelRequest{
		Model:           c.cfg.Model,
		Instructions:    c.cfg.UserReplyInstructions,
		Input:           input,
		ReasoningEffort: c.cfg.ReasoningEffort,
		PromptCacheKey:  c.cfg.PromptCacheKey,
	}

	text, _, err := c.streamWithRetry(ctx, req)
	if err != nil {
		c.sink.Emit(Event{Kind: EventDiagnosticAlert, AlertMessage: "user reply failed: " + err.Error()})
		return
	}

	var reply struct {
		UserResponse string `json:"user_response"`
		CLICommand   string `json:"cli_command"`
	}
	body := text
	if extracted, ok := decision.ExtractBalancedObject(text); ok {
		body = extracted
	}
	if jsonErr := json.Unmarshal([]byte(body), &reply); jsonErr != nil || reply.UserResponse == "" {
		// The user-reply schema was not honored; surface the raw text.
		reply.UserResponse = text
		reply.CLICommand = ""
	}
	c.sink.Emit(Event{Kind: EventUserReply, UserResponse: reply.UserResponse, CLICommand: reply.CLICommand})
}

// adoptTranscript replaces history atomically with the worker's
// transcript; a half-built History is never published to c.hist.
func (c *Coordinator) adoptTranscript(transcript history.History) {
	cleaned := transcript.StripPopularCommands().PruneOrphanOutputs()

	if !c.goalFrozen {
		if anchor, ok := cleaned.GoalAnchor(); ok {
			c.goal = anchor
			c.goalKnown = true
		}
	} else if c.goalKnown {
		cleaned = cleaned.EnsureGoalPresent(c.goal)
	}

	c.hist = cleaned
}

// maybeCompact runs the CompactionEngine's decide-when check and, if it
// fires, rewrites c.hist and notifies the UI.
func (c *Coordinator) maybeCompact(ctx context.Context) {
	if c.compactor == nil {
		return
	}
	transcriptTokens := 0
	for _, item := range c.hist {
		transcriptTokens += compaction.EstimateTokens(item)
	}
	nextPromptTokens := len(c.cfg.BaseInstructions) / 3

	hasTurns := c.sessMx != nil && c.sessMx.Snapshot().TurnCount > 0
	if !compaction.ShouldCompact(c.cfg.ModelBudget, transcriptTokens, nextPromptTokens, len(c.hist), hasTurns) {
		return
	}

	rebuilt, err := c.compactor.Compact(ctx, c.hist)
	if err != nil {
		c.sink.Emit(Event{Kind: EventDiagnosticAlert, AlertMessage: "compaction failed: " + err.Error()})
		return
	}
	if c.goalKnown {
		rebuilt = rebuilt.EnsureGoalPresent(c.goal)
	}
	c.hist = rebuilt
	c.sink.Emit(Event{Kind: EventCompactedHistory, Conversation: toView(c.hist), ShowNotice: true})
}

// applyWriteGuard enforces the write guard: force
// every AgentAction.Write to false when the working directory is not a
// git repo, preserving the model's original request in OriginalWrite.
func (c *Coordinator) applyWriteGuard(d *decision.CoordinatorDecision) {
	if c.cfg.GitRepoPresent {
		return
	}
	for i := range d.Agents {
		d.Agents[i].OriginalWrite = d.Agents[i].Write
		d.Agents[i].Write = false
	}
}

// applyGoalExtraction freezes the goal anchor: the first time a non-empty goal arrives while the schema is
// in derive-goal mode, the primary-goal message is frozen to that value
// and derive-goal mode turns off for subsequent turns.
func (c *Coordinator) applyGoalExtraction(d *decision.CoordinatorDecision) {
	if !c.deriveGoal || d.Goal == "" {
		return
	}
	c.goal = history.NewUserMessage(d.Goal)
	c.goalKnown = true
	c.goalFrozen = true
	c.deriveGoal = false
}

// spawnAgents creates the requested sub-agent batch through AgentManager.
// A Blocking batch is awaited before the decision is handed to the UI;
// a Parallel batch is fired and not waited on.
func (c *Coordinator) spawnAgents(ctx context.Context, d *decision.CoordinatorDecision) {
	if c.agents == nil || len(d.Agents) == 0 {
		return
	}
	ids := make([]string, 0, len(d.Agents))
	for _, action := range d.Agents {
		model := ""
		if len(action.Models) > 0 {
			model = action.Models[0]
		}
		a, err := c.agents.Create(ctx, agentmgr.Agent{
			Prompt:         action.Prompt,
			Context:        action.Context,
			ReadOnly:       !action.Write,
			RequestedWrite: action.OriginalWrite,
			Model:          model,
		})
		if err != nil {
			c.logger.Error("coordinator: agent spawn failed", zap.Error(err))
			continue
		}
		ids = append(ids, a.ID)
	}
	if d.AgentsTiming == decision.AgentsBlocking && len(ids) > 0 {
		if _, err := c.agents.WaitBatch(ctx, ids, 0, true); err != nil {
			c.logger.Warn("coordinator: blocking agent batch wait failed", zap.Error(err))
		}
	}
}

// emitDecision assigns the next sequence number, records it as pending,
// and publishes it to the UI.
func (c *Coordinator) emitDecision(d *decision.CoordinatorDecision) {
	c.seq = nextSeq(c.seq)
	pd := &PendingDecision{Seq: c.seq, Decision: d}
	c.pending = pd
	c.sink.Emit(Event{Kind: EventDecision, Decision: pd})
}

func toView(h history.History) []ResponseItemView {
	out := make([]ResponseItemView, 0, len(h))
	for _, item := range h {
		if item.Type != history.KindMessage {
			continue
		}
		out = append(out, ResponseItemView{Role: string(item.Role), Text: item.TextContent()})
	}
	return out
}
