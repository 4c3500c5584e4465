package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ordinaut/ordinaut/internal/domain"
)

type AgentRepository struct {
	pool *pgxpool.Pool
}

func NewAgentRepository(pool *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{pool: pool}
}

func (r *AgentRepository) Create(ctx context.Context, a *domain.Agent) (*domain.Agent, error) {
	query := `
		INSERT INTO agents (name, scopes, webhook)
		VALUES ($1, $2, $3)
		RETURNING id, name, scopes, webhook, created_at`

	row := r.pool.QueryRow(ctx, query, a.Name, a.Scopes, a.Webhook)
	return scanAgent(row)
}

func (r *AgentRepository) GetByID(ctx context.Context, id string) (*domain.Agent, error) {
	query := `SELECT id, name, scopes, webhook, created_at FROM agents WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	return scanAgent(row)
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var a domain.Agent
	err := row.Scan(&a.ID, &a.Name, &a.Scopes, &a.Webhook, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAgentNotFound
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	return &a, nil
}
