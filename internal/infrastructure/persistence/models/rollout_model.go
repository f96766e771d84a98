package models

import "time"

// RolloutModel is the gorm row backing the Tracker/RolloutCatalog module.
type RolloutModel struct {
	ID              string `gorm:"primaryKey;size:64"`
	Goal            string `gorm:"type:text;not null"`
	Status          string `gorm:"size:16;not null"`
	StartedAt       time.Time
	EndedAt         *time.Time
	TurnCount       int
	InputTokens     int64
	CachedTokens    int64
	OutputTokens    int64
	ReasoningTokens int64
	TotalTokens     int64
}

// TableName pins the table name so renaming the Go type doesn't migrate it.
func (RolloutModel) TableName() string {
	return "rollouts"
}
