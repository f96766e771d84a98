package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/autodrive/autodrive/internal/domain/metrics"
	"github.com/autodrive/autodrive/internal/domain/rollout"
	"github.com/autodrive/autodrive/internal/infrastructure/persistence/models"
	domainErrors "github.com/autodrive/autodrive/pkg/errors"
)

// GormRolloutRepository is the gorm-backed rollout.Repository, adapted
// from GormMessageRepository's shape (one table, Save/FindByID/List).
type GormRolloutRepository struct {
	db *gorm.DB
}

// NewGormRolloutRepository constructs a gorm-backed rollout.Repository.
func NewGormRolloutRepository(db *gorm.DB) rollout.Repository {
	return &GormRolloutRepository{db: db}
}

func (r *GormRolloutRepository) RecordRolloutStart(ctx context.Context, goal string) (string, error) {
	id := uuid.NewString()
	model := &models.RolloutModel{
		ID:        id,
		Goal:      goal,
		Status:    string(rollout.StatusRunning),
		StartedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return "", domainErrors.NewInternalError("failed to record rollout start: " + err.Error())
	}
	return id, nil
}

func (r *GormRolloutRepository) RecordRolloutEnd(ctx context.Context, id string, status rollout.Status, m metrics.TokenUsage, turnCount int) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":           string(status),
		"ended_at":         now,
		"turn_count":       turnCount,
		"input_tokens":     m.Input,
		"cached_tokens":    m.CachedInput,
		"output_tokens":    m.Output,
		"reasoning_tokens": m.ReasoningOutput,
		"total_tokens":     m.Total,
	}
	result := r.db.WithContext(ctx).Model(&models.RolloutModel{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to record rollout end: " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("rollout not found")
	}
	return nil
}

func (r *GormRolloutRepository) ListRecent(ctx context.Context, limit int) ([]rollout.Rollout, error) {
	var rows []models.RolloutModel
	if err := r.db.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to list rollouts: " + err.Error())
	}
	out := make([]rollout.Rollout, 0, len(rows))
	for _, row := range rows {
		out = append(out, toRollout(row))
	}
	return out, nil
}

func (r *GormRolloutRepository) Get(ctx context.Context, id string) (*rollout.Rollout, error) {
	var row models.RolloutModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("rollout not found")
		}
		return nil, domainErrors.NewInternalError("failed to find rollout: " + err.Error())
	}
	out := toRollout(row)
	return &out, nil
}

func toRollout(row models.RolloutModel) rollout.Rollout {
	return rollout.Rollout{
		ID:        row.ID,
		Goal:      row.Goal,
		Status:    rollout.Status(row.Status),
		StartedAt: row.StartedAt,
		EndedAt:   row.EndedAt,
		TurnCount: row.TurnCount,
		Metrics: metrics.TokenUsage{
			Input:           row.InputTokens,
			CachedInput:     row.CachedTokens,
			Output:          row.OutputTokens,
			ReasoningOutput: row.ReasoningTokens,
			Total:           row.TotalTokens,
		},
	}
}
