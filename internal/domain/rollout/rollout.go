// Package rollout implements the Tracker/RolloutCatalog module: a durable,
// queryable record of past coordinator runs (goal, status, turn count,
// token totals), one row per coordinator run.
package rollout

import (
	"context"
	"time"

	"github.com/autodrive/autodrive/internal/domain/metrics"
)

// Status is the terminal (or in-progress) state of a rollout.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusStopped Status = "stopped"
)

// Rollout is one coordinator run.
type Rollout struct {
	ID        string
	Goal      string
	Status    Status
	StartedAt time.Time
	EndedAt   *time.Time
	TurnCount int
	Metrics   metrics.TokenUsage
}

// Repository persists and queries Rollouts. RecordRolloutStart/End are the
// only writes the coordinator's entrypoint performs; ListRecent/Get back a
// `autodrive doctor`/history surface.
type Repository interface {
	RecordRolloutStart(ctx context.Context, goal string) (string, error)
	RecordRolloutEnd(ctx context.Context, id string, status Status, m metrics.TokenUsage, turnCount int) error
	ListRecent(ctx context.Context, limit int) ([]Rollout, error)
	Get(ctx context.Context, id string) (*Rollout, error)
}
