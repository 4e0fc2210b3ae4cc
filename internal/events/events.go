package events

import (
	"context"
	"time"
)

const TopicConfigurationUpdated = "atlas.configuration.updated"

// Reasons carried on ConfigurationUpdated.
const (
	ReasonSave      = "save"
	ReasonRollback  = "rollback"
	ReasonImport    = "import"
	ReasonReconcile = "reconcile"
)

// ConfigurationUpdated is published after a scope's pointer moves to a new commit.
type ConfigurationUpdated struct {
	Level       string    `json:"level"`
	OwnerID     string    `json:"owner_id"`
	ContentPath string    `json:"content_path"`
	CommitID    string    `json:"commit_id"`
	Author      string    `json:"author,omitempty"`
	Reason      string    `json:"reason"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
