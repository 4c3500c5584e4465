package domain

import "time"

// DueWorkItem announces a firing that is ready for a worker to claim.
type DueWorkItem struct {
	ID     int64  `json:"id"`
	TaskID string `json:"taskId"`
	RunAt  time.Time `json:"runAt"`

	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
	LockedBy    *string    `json:"lockedBy,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	// Populated by the claim query's join against task for priority ordering.
	Task *Task `json:"-"`
}
