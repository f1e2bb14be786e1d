// Package penalty implements the durable penalty job queue and the worker
// that executes slashes against custodial balances.
package penalty

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a penalty job.
type Status string

const (
	StatusQueued          Status = "queued"
	StatusInProgress      Status = "in_progress"
	StatusSucceeded       Status = "succeeded"
	StatusFailedRetryable Status = "failed_retryable"
	StatusFailedPermanent Status = "failed_permanent"
)

// Terminal reports whether a job in this state may never run again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailedPermanent
}

// Job is one penalty instruction, created per threshold crossing.
type Job struct {
	ID              string    `json:"id"`
	IdentityKey     string    `json:"identity_key"`
	TriggeringScore float64   `json:"triggering_score"`
	Amount          string    `json:"amount"` // USDC
	Status          Status    `json:"status"`
	Attempts        int       `json:"attempts"`
	LastError       string    `json:"last_error,omitempty"`
	TxRef           string    `json:"tx_ref,omitempty"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	NextAttemptAt   time.Time `json:"next_attempt_at"`
}

// Sentinel errors shared by queue implementations.
var (
	ErrJobNotFound = errors.New("penalty job not found")
	ErrNoJob       = errors.New("no penalty job due")
)
