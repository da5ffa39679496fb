package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"github.com/mealmesh/fulfillment/internal/db"
	"github.com/mealmesh/fulfillment/internal/repository"
)

type AgentRepo struct {
	db db.DB
}

func NewAgentRepo(db db.DB) *AgentRepo {
	return &AgentRepo{db: db}
}

func (r *AgentRepo) GetByID(ctx context.Context, id string) (*repository.Agent, error) {
	var agent repository.Agent
	err := r.db.Get(ctx, &agent, "SELECT * FROM agents WHERE id = $1 AND active", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &agent, nil
}

// Search returns active agents matching the query by name or phone, best
// rated first.
func (r *AgentRepo) Search(ctx context.Context, query string, limit int) ([]*repository.Agent, error) {
	if limit <= 0 {
		limit = 20
	}
	var agents []*repository.Agent
	err := r.db.Select(ctx, &agents, `
        SELECT * FROM agents
        WHERE active AND (name ILIKE '%' || $1 || '%' OR phone ILIKE '%' || $1 || '%')
        ORDER BY rating DESC, name ASC
        LIMIT $2
    `, query, limit)
	return agents, err
}
