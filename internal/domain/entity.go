package domain

import (
	"time"
)

// TransitionKind names a ladder lifecycle event.
type TransitionKind string

const (
	TransitionPlaced       TransitionKind = "placed"
	TransitionRepaired     TransitionKind = "repaired"
	TransitionFilled       TransitionKind = "filled"
	TransitionCancelFailed TransitionKind = "cancel_failed"
	TransitionCanceled     TransitionKind = "canceled"
	TransitionAdvanced     TransitionKind = "advanced"
	TransitionCompleted    TransitionKind = "completed"
)

// Transition is one row of the lifecycle audit trail.
type Transition struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Kind      TransitionKind `gorm:"index" json:"kind"`
	StepID    StepID         `gorm:"index" json:"step_id"`
	OrderID   string         `gorm:"index" json:"order_id"`
	Side      Side           `json:"side"`
	Size      string         `json:"size"`
	Price     string         `json:"price"`
	Detail    string         `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AppConfig represents persisted runtime metadata (Key-Value)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
