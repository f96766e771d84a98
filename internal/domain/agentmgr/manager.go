package agentmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autodrive/autodrive/pkg/safego"
)

// Runner executes one agent to completion, writing progress via
// progress and returning the final result text. Implementations adapt
// infrastructure/worktree (for write-capable agents) and os/exec (for
// external CLI families) or the cloud-agent streaming path.
type Runner interface {
	Run(ctx context.Context, agent *Agent, progress func(string)) (result string, err error)
}

// StatusSnapshot is a point-in-time copy of an agent's externally
// observable state, safe to hand to a UI event.
type StatusSnapshot struct {
	ID          string
	Name        string
	Status      Status
	Progress    []string
	Result      string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func snapshot(a *Agent) StatusSnapshot {
	return StatusSnapshot{
		ID: a.ID, Name: a.Name, Status: a.Status,
		Progress: append([]string(nil), a.Progress...),
		Result:   a.Result, Error: a.Error,
		CreatedAt: a.CreatedAt, StartedAt: a.StartedAt, CompletedAt: a.CompletedAt,
	}
}

// OnStatusUpdate is invoked with every agent's current snapshot whenever
// any one of them changes, so the UI always renders the full set of
// agent snapshots. sharedContext and sharedTask come from the
// earliest-created agent, giving the HUD one stable header for a batch.
type OnStatusUpdate func(snapshots []StatusSnapshot, sharedContext, sharedTask string)

// Manager is the id-keyed sub-agent registry.
type Manager struct {
	mu      sync.RWMutex
	agents  map[string]*Agent
	runner  Runner
	logger  *zap.Logger
	onEvent OnStatusUpdate

	waiters map[string][]chan struct{}
}

func NewManager(runner Runner, logger *zap.Logger, onEvent OnStatusUpdate) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		agents:  make(map[string]*Agent),
		runner:  runner,
		logger:  logger,
		onEvent: onEvent,
		waiters: make(map[string][]chan struct{}),
	}
}

// Create registers a new agent and immediately spawns its run task.
func (m *Manager) Create(ctx context.Context, spec Agent) (*Agent, error) {
	spec.ID = uuid.New().String()
	spec.Name = NormalizeName(spec.Name)
	spec.Status = StatusPending
	spec.CreatedAt = time.Now()
	if spec.Family == "" {
		spec.Family = FamilyForModel(spec.Model)
	}
	if spec.ReadOnly {
		spec.Prompt = "[Running in read-only mode - no modifications allowed]\n" + spec.Prompt
	}

	a := &spec
	m.mu.Lock()
	m.agents[a.ID] = a
	m.mu.Unlock()

	safego.Go(m.logger, "agentmgr-run-"+a.ID, func() {
		m.run(ctx, a)
	})

	m.emit()
	return a, nil
}

func (m *Manager) run(ctx context.Context, a *Agent) {
	m.setRunning(a)

	result, err := m.runner.Run(ctx, a, func(line string) {
		m.mu.Lock()
		a.AppendProgress(line)
		m.mu.Unlock()
		m.emit()
	})

	m.mu.Lock()
	if a.Status.IsTerminal() {
		// Cancelled while the runner was still going: keep that state.
		m.mu.Unlock()
		return
	}
	now := time.Now()
	a.CompletedAt = &now
	if err != nil {
		if ctx.Err() != nil {
			a.Status = StatusCancelled
		} else {
			a.Status = StatusFailed
			a.Error = err.Error()
		}
	} else {
		a.Status = StatusCompleted
		a.Result = result
	}
	m.mu.Unlock()

	m.notifyWaiters(a.ID)
	m.emit()
}

func (m *Manager) setRunning(a *Agent) {
	m.mu.Lock()
	now := time.Now()
	a.StartedAt = &now
	a.Status = StatusRunning
	m.mu.Unlock()
	m.emit()
}

// Status returns a snapshot for one agent.
func (m *Manager) Status(id string) (StatusSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return StatusSnapshot{}, false
	}
	return snapshot(a), true
}

// List returns snapshots for every agent, optionally filtered by batch.
func (m *Manager) List(batchID string) []StatusSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StatusSnapshot, 0, len(m.agents))
	for _, a := range m.agents {
		if batchID != "" && a.BatchID != batchID {
			continue
		}
		out = append(out, snapshot(a))
	}
	return out
}

// Cancel marks an agent cancelled and releases its waiters. It does not
// cancel the context the agent's Runner was started with: the Runner
// keeps going until that context ends or it returns, and its result is
// then discarded.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("agent %s not found", id)
	}
	if a.Status.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	a.Status = StatusCancelled
	now := time.Now()
	a.CompletedAt = &now
	m.mu.Unlock()
	m.notifyWaiters(id)
	m.emit()
	return nil
}

// CancelBatch cancels every agent in a batch.
func (m *Manager) CancelBatch(batchID string) error {
	for _, s := range m.List(batchID) {
		if err := m.Cancel(s.ID); err != nil {
			m.logger.Warn("failed to cancel agent in batch", zap.String("agent_id", s.ID), zap.Error(err))
		}
	}
	return nil
}

// Wait blocks until the agent reaches a terminal state, ctx is
// cancelled, or timeout elapses.
func (m *Manager) Wait(ctx context.Context, id string, timeout time.Duration) (StatusSnapshot, error) {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return StatusSnapshot{}, fmt.Errorf("agent %s not found", id)
	}
	if a.Status.IsTerminal() {
		snap := snapshot(a)
		m.mu.Unlock()
		return snap, nil
	}
	ch := make(chan struct{})
	m.waiters[id] = append(m.waiters[id], ch)
	m.mu.Unlock()

	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-ch:
		snap, _ := m.Status(id)
		return snap, nil
	case <-waitCtx.Done():
		snap, _ := m.Status(id)
		return snap, waitCtx.Err()
	}
}

// WaitBatch waits for every agent in ids; if returnAll is false it
// returns as soon as the first one finishes.
func (m *Manager) WaitBatch(ctx context.Context, ids []string, timeout time.Duration, returnAll bool) ([]StatusSnapshot, error) {
	if !returnAll {
		type result struct {
			snap StatusSnapshot
			err  error
		}
		ch := make(chan result, len(ids))
		for _, id := range ids {
			id := id
			safego.Go(m.logger, "agentmgr-waitbatch-"+id, func() {
				snap, err := m.Wait(ctx, id, timeout)
				ch <- result{snap, err}
			})
		}
		r := <-ch
		return []StatusSnapshot{r.snap}, r.err
	}

	out := make([]StatusSnapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := m.Wait(ctx, id, timeout)
		if err != nil {
			return out, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Collect returns the final result/error of a terminal agent.
func (m *Manager) Collect(id string) (result, errText string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, exists := m.agents[id]
	if !exists || !a.Status.IsTerminal() {
		return "", "", false
	}
	return a.Result, a.Error, true
}

func (m *Manager) notifyWaiters(id string) {
	m.mu.Lock()
	chs := m.waiters[id]
	delete(m.waiters, id)
	m.mu.Unlock()
	for _, ch := range chs {
		close(ch)
	}
}

func (m *Manager) emit() {
	if m.onEvent == nil {
		return
	}

	m.mu.RLock()
	var first *Agent
	for _, a := range m.agents {
		if first == nil || a.CreatedAt.Before(first.CreatedAt) {
			first = a
		}
	}
	sharedContext, sharedTask := "", ""
	if first != nil {
		sharedContext = first.Context
		sharedTask = first.Prompt
	}
	m.mu.RUnlock()

	m.onEvent(m.List(""), sharedContext, sharedTask)
}
