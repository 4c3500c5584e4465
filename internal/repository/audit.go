package repository

import (
	"context"

	"github.com/ordinaut/ordinaut/internal/domain"
)

// AuditRepository appends to the append-only audit log.
type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditLog) error
}
