package postgresql

import (
	"context"
	"fmt"

	"github.com/mealmesh/fulfillment/internal/db"
	"github.com/mealmesh/fulfillment/internal/repository"
)

type AgentRequestRepo struct {
	db db.DB
}

func NewAgentRequestRepo(db db.DB) *AgentRequestRepo {
	return &AgentRequestRepo{db: db}
}

func (r *AgentRequestRepo) ListByOrder(ctx context.Context, orderID string) ([]*repository.AgentRequest, error) {
	var requests []*repository.AgentRequest
	err := r.db.Select(ctx, &requests,
		"SELECT * FROM agent_requests WHERE order_id = $1 ORDER BY sent_at ASC", orderID)
	return requests, err
}

func (r *AgentRequestRepo) ListByOrderTx(ctx context.Context, tx db.Tx, orderID string) ([]*repository.AgentRequest, error) {
	var requests []*repository.AgentRequest
	err := tx.Select(ctx, &requests,
		"SELECT * FROM agent_requests WHERE order_id = $1 ORDER BY sent_at ASC FOR UPDATE", orderID)
	return requests, err
}

func (r *AgentRequestRepo) ListByOrders(ctx context.Context, orderIDs []string) ([]*repository.AgentRequest, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var requests []*repository.AgentRequest
	err := r.db.Select(ctx, &requests,
		"SELECT * FROM agent_requests WHERE order_id = ANY($1) ORDER BY sent_at ASC", orderIDs)
	return requests, err
}

// ReplaceForOrderTx rewrites the full request set of an order. Transitions
// mutate the order snapshot as a whole, so the request collection is
// persisted the same way.
func (r *AgentRequestRepo) ReplaceForOrderTx(ctx context.Context, tx db.Tx, orderID string, requests []*repository.AgentRequest) error {
	if _, err := tx.Exec(ctx, "DELETE FROM agent_requests WHERE order_id = $1", orderID); err != nil {
		return fmt.Errorf("clear agent requests for order %s: %w", orderID, err)
	}
	for _, req := range requests {
		_, err := tx.Exec(ctx, `
            INSERT INTO agent_requests (id, order_id, agent_id, agent_name, status, sent_at, responded_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
        `, req.ID, req.OrderID, req.AgentID, req.AgentName, req.Status, req.SentAt, req.RespondedAt)
		if err != nil {
			return fmt.Errorf("insert agent request %s: %w", req.ID, err)
		}
	}
	return nil
}
