package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mealmesh/fulfillment/internal/db"
	"github.com/mealmesh/fulfillment/internal/domain"
	"github.com/mealmesh/fulfillment/internal/repository"
	"github.com/mealmesh/fulfillment/internal/repository/postgresql"
)

type PostgresStorage struct {
	db          db.DB
	orderRepo   *postgresql.OrderRepo
	requestRepo *postgresql.AgentRequestRepo
	agentRepo   *postgresql.AgentRepo
	outboxRepo  OutboxTaskRepository
}

func NewPostgresStorage(database db.DB) *PostgresStorage {
	return &PostgresStorage{
		db:          database,
		orderRepo:   postgresql.NewOrderRepo(database),
		requestRepo: postgresql.NewAgentRequestRepo(database),
		agentRepo:   postgresql.NewAgentRepo(database),
		outboxRepo:  postgresql.NewOutboxTaskRepo(),
	}
}

func (s *PostgresStorage) CreateOrder(ctx context.Context, order *domain.Order) error {
	row := toRepoOrder(order)
	if err := s.orderRepo.Create(ctx, row); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, domain.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	requests, err := s.requestRepo.ListByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent requests: %w", err)
	}
	return toDomainOrder(row, requests), nil
}

func (s *PostgresStorage) ListActive(ctx context.Context, role domain.ActorRole, actorID string) ([]*domain.Order, error) {
	return s.listByActor(ctx, role, actorID, false)
}

func (s *PostgresStorage) ListHistorical(ctx context.Context, role domain.ActorRole, actorID string) ([]*domain.Order, error) {
	return s.listByActor(ctx, role, actorID, true)
}

func (s *PostgresStorage) listByActor(ctx context.Context, role domain.ActorRole, actorID string, historical bool) ([]*domain.Order, error) {
	rows, err := s.orderRepo.ListByActor(ctx, string(role), actorID, historical)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	requests, err := s.requestRepo.ListByOrders(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent requests: %w", err)
	}
	byOrder := make(map[string][]*repository.AgentRequest)
	for _, req := range requests {
		byOrder[req.OrderID] = append(byOrder[req.OrderID], req)
	}
	orders := make([]*domain.Order, len(rows))
	for i, row := range rows {
		orders[i] = toDomainOrder(row, byOrder[row.ID])
	}
	return orders, nil
}

func (s *PostgresStorage) SearchAgents(ctx context.Context, query string, limit int) ([]domain.Agent, error) {
	rows, err := s.agentRepo.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search agents: %w", err)
	}
	agents := make([]domain.Agent, len(rows))
	for i, row := range rows {
		agents[i] = domain.Agent{ID: row.ID, Name: row.Name, Phone: row.Phone, Rating: row.Rating}
	}
	return agents, nil
}

func (s *PostgresStorage) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	row, err := s.agentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, domain.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &domain.Agent{ID: row.ID, Name: row.Name, Phone: row.Phone, Rating: row.Rating}, nil
}

func (s *PostgresStorage) MutateOrder(ctx context.Context, id string, actor Actor, fn Mutation) (*domain.Order, error) {
	var updated *domain.Order
	err := db.WithTx(ctx, s.db, func(tx db.Tx) error {
		row, err := s.orderRepo.GetByIDTx(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repository.ErrObjectNotFound) {
				return domain.ErrObjectNotFound
			}
			return fmt.Errorf("failed to lock order: %w", err)
		}
		requests, err := s.requestRepo.ListByOrderTx(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("failed to lock agent requests: %w", err)
		}

		order := toDomainOrder(row, requests)
		oldStatus := order.Status

		action, err := fn(order)
		if err != nil {
			return err
		}
		order.UpdatedAt = time.Now().UTC()

		if err := s.orderRepo.UpdateTx(ctx, tx, toRepoOrder(order)); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if err := s.requestRepo.ReplaceForOrderTx(ctx, tx, id, toRepoRequests(order)); err != nil {
			return fmt.Errorf("failed to update agent requests: %w", err)
		}

		payload, err := json.Marshal(repository.TransitionPayload{
			OrderID:   order.ID,
			Action:    action,
			OldStatus: string(oldStatus),
			NewStatus: string(order.Status),
			ActorRole: string(actor.Role),
			ActorID:   actor.ID,
			At:        order.UpdatedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal transition payload: %w", err)
		}
		task := &repository.OutboxTask{Topic: TopicOrderTransitions, Payload: payload}
		if err := s.outboxRepo.CreateTx(ctx, tx, task); err != nil {
			return fmt.Errorf("failed to enqueue transition audit: %w", err)
		}

		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStorage) EnqueueTask(ctx context.Context, topic string, payload []byte) error {
	return db.WithTx(ctx, s.db, func(tx db.Tx) error {
		task := &repository.OutboxTask{ID: uuid.New(), Topic: topic, Payload: payload}
		return s.outboxRepo.CreateTx(ctx, tx, task)
	})
}

func toRepoOrder(o *domain.Order) *repository.Order {
	return &repository.Order{
		ID:              o.ID,
		Status:          string(o.Status),
		CustomerID:      o.CustomerID,
		CustomerName:    o.CustomerName,
		RestaurantID:    o.RestaurantID,
		RestaurantName:  o.RestaurantName,
		AgentID:         o.AgentID,
		Items:           o.Items,
		TotalAmount:     o.TotalAmount,
		DeliveryAddress: o.DeliveryAddress,
		Notes:           o.Notes,
		PrepTimeMinutes: o.PrepTimeMinutes,
		CancelReason:    o.CancelReason,
		CreatedAt:       o.CreatedAt,
		AcceptedAt:      o.AcceptedAt,
		CancelledAt:     o.CancelledAt,
		CompletedAt:     o.CompletedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toRepoRequests(o *domain.Order) []*repository.AgentRequest {
	out := make([]*repository.AgentRequest, len(o.AgentRequests))
	for i := range o.AgentRequests {
		req := &o.AgentRequests[i]
		out[i] = &repository.AgentRequest{
			ID:          req.ID,
			OrderID:     o.ID,
			AgentID:     req.AgentID,
			AgentName:   req.AgentName,
			Status:      string(req.Status),
			SentAt:      req.SentAt,
			RespondedAt: req.RespondedAt,
		}
	}
	return out
}

func toDomainOrder(row *repository.Order, requests []*repository.AgentRequest) *domain.Order {
	order := &domain.Order{
		ID:              row.ID,
		Status:          domain.OrderStatus(row.Status),
		CustomerID:      row.CustomerID,
		CustomerName:    row.CustomerName,
		RestaurantID:    row.RestaurantID,
		RestaurantName:  row.RestaurantName,
		AgentID:         row.AgentID,
		Items:           row.Items,
		TotalAmount:     row.TotalAmount,
		DeliveryAddress: row.DeliveryAddress,
		Notes:           row.Notes,
		PrepTimeMinutes: row.PrepTimeMinutes,
		CancelReason:    row.CancelReason,
		CreatedAt:       row.CreatedAt,
		AcceptedAt:      row.AcceptedAt,
		CancelledAt:     row.CancelledAt,
		CompletedAt:     row.CompletedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	for _, req := range requests {
		order.AgentRequests = append(order.AgentRequests, domain.AssignmentRequest{
			ID:          req.ID,
			AgentID:     req.AgentID,
			AgentName:   req.AgentName,
			Status:      domain.RequestStatus(req.Status),
			SentAt:      req.SentAt,
			RespondedAt: req.RespondedAt,
		})
	}
	return order
}

var _ Storage = (*PostgresStorage)(nil)
