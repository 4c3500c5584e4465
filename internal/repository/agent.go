package repository

import (
	"context"

	"github.com/ordinaut/ordinaut/internal/domain"
)

// AgentRepository persists identity/permission holders.
type AgentRepository interface {
	Create(ctx context.Context, a *domain.Agent) (*domain.Agent, error)
	GetByID(ctx context.Context, id string) (*domain.Agent, error)
}
