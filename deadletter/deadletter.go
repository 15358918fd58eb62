// Package deadletter persists the sweep's bookkeeping: contracts whose pass
// failed (kept for manual reprocessing) and per-run summaries.
package deadletter

import "time"

// DeadLetter is one failed contract pass awaiting manual reprocessing.
type DeadLetter struct {
	ID         uint   `gorm:"primaryKey"`
	RunID      string `gorm:"index"`
	ContractID string `gorm:"not null;index"`
	Phase      string
	Reason     string
	Kind       string
	CreatedAt  time.Time
	// ReprocessedAt is set when an operator has replayed the contract.
	ReprocessedAt *time.Time
}

// SweepRun is the summary row of one batch sweep.
type SweepRun struct {
	RunID           string `gorm:"primaryKey"`
	Started         time.Time
	Finished        time.Time
	Processed       int
	Failed          int
	Promoted        int
	InvoicesEmitted int
	DryRun          bool
}
