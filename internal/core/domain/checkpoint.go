package domain

import "time"

// CheckpointType categorizes why a checkpoint was taken.
type CheckpointType string

const (
	CheckpointScheduled    CheckpointType = "scheduled"
	CheckpointManual       CheckpointType = "manual"
	CheckpointPreOperation CheckpointType = "pre_operation"
	CheckpointEmergency    CheckpointType = "emergency"
)

// Protected reports whether checkpoints of this type are shielded from
// cap-based eviction up to the store's reserved count.
func (t CheckpointType) Protected() bool {
	return t == CheckpointManual || t == CheckpointEmergency
}

// Checkpoint describes one immutable state snapshot. The payload itself lives
// in a backend; Location tells the backend where.
type Checkpoint struct {
	ID          string         `json:"id"`
	Type        CheckpointType `json:"type"`
	CreatedAt   time.Time      `json:"created_at"`
	Description string         `json:"description"`
	Hash        string         `json:"hash"` // hex SHA-256 of the serialized payload
	Location    string         `json:"location"`
	Size        int64          `json:"size"`
	Components  []string       `json:"components,omitempty"`
}
