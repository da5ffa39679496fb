package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"github.com/mealmesh/fulfillment/internal/db"
	"github.com/mealmesh/fulfillment/internal/repository"
)

var terminalStatuses = []string{"completed", "cancelled"}

type OrderRepo struct {
	db db.DB
}

func NewOrderRepo(db db.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

const orderColumns = `
        id, status, customer_id, customer_name, restaurant_id, restaurant_name,
        agent_id, items, total_amount, delivery_address, notes,
        prep_time_minutes, cancel_reason,
        created_at, accepted_at, cancelled_at, completed_at, updated_at`

func (r *OrderRepo) Create(ctx context.Context, order *repository.Order) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO orders (`+orderColumns+`
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
    `, order.ID, order.Status, order.CustomerID, order.CustomerName, order.RestaurantID, order.RestaurantName,
		order.AgentID, order.Items, order.TotalAmount, order.DeliveryAddress, order.Notes,
		order.PrepTimeMinutes, order.CancelReason,
		order.CreatedAt, order.AcceptedAt, order.CancelledAt, order.CompletedAt, order.UpdatedAt)
	return err
}

func (r *OrderRepo) GetByID(ctx context.Context, id string) (*repository.Order, error) {
	var order repository.Order
	err := r.db.Get(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByIDTx loads an order with a row lock, so a transition commits against
// the version it read.
func (r *OrderRepo) GetByIDTx(ctx context.Context, tx db.Tx, id string) (*repository.Order, error) {
	var order repository.Order
	err := tx.Get(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepo) UpdateTx(ctx context.Context, tx db.Tx, order *repository.Order) error {
	_, err := tx.Exec(ctx, `
        UPDATE orders
        SET
            status = $1,
            agent_id = $2,
            prep_time_minutes = $3,
            cancel_reason = $4,
            accepted_at = $5,
            cancelled_at = $6,
            completed_at = $7,
            updated_at = $8
        WHERE id = $9
    `, order.Status, order.AgentID, order.PrepTimeMinutes, order.CancelReason,
		order.AcceptedAt, order.CancelledAt, order.CompletedAt, order.UpdatedAt, order.ID)
	return err
}

// ListByActor returns an actor's orders, active or historical. The role
// decides which reference column scopes the query; agents see orders they
// are assigned to or have an open request on.
func (r *OrderRepo) ListByActor(ctx context.Context, role, actorID string, historical bool) ([]*repository.Order, error) {
	var query string
	switch role {
	case "customer":
		query = "SELECT * FROM orders WHERE customer_id = $1"
	case "restaurant":
		query = "SELECT * FROM orders WHERE restaurant_id = $1"
	case "agent":
		query = `SELECT * FROM orders WHERE (agent_id = $1
            OR id IN (SELECT order_id FROM agent_requests WHERE agent_id = $1 AND status = 'pending'))`
	default:
		return nil, repository.ErrObjectNotFound
	}

	if historical {
		query += " AND status = ANY($2)"
	} else {
		query += " AND NOT (status = ANY($2))"
	}
	query += " ORDER BY created_at DESC"

	var orders []*repository.Order
	err := r.db.Select(ctx, &orders, query, actorID, terminalStatuses)
	return orders, err
}
