package domain

import (
	"encoding/json"
	"time"
)

// Audit action verbs recorded by the core. The REST API collaborator may
// append others (e.g. agent CRUD); these are the ones the core itself writes.
const (
	AuditScheduleInvalid    = "schedule_invalid"
	AuditMisfireCoalesced   = "misfire_coalesced"
	AuditDedupeSkip         = "dedupe_skip"
	AuditTerminalLeaseLoss  = "terminal_lease_loss"
)

// AuditLog is an append-only record of a notable action taken by the system
// or an operator. The code keeps it append-only by offering no update or
// delete path: AuditRepository (infrastructure/postgres/audit_repo.go) has
// only Append.
type AuditLog struct {
	ID        int64           `json:"id"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	SubjectID string          `json:"subjectId"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
