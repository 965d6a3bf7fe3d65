package domain

import "time"

// Transaction records one in-flight atomic multi-resource operation. The
// coordinator registers it for the duration of the enclosed work.
type Transaction struct {
	ID        string    `json:"id"`
	Resources []string  `json:"resources"` // sorted, the acquisition order
	Context   string    `json:"context"`
	Owner     string    `json:"owner"`
	StartedAt time.Time `json:"started_at"`
}

// Age returns how long the transaction has been in flight.
func (t Transaction) Age(now time.Time) time.Duration {
	return now.Sub(t.StartedAt)
}
