package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mealmesh/fulfillment/internal/db"
	"github.com/mealmesh/fulfillment/internal/domain"
	"github.com/mealmesh/fulfillment/internal/repository"
)

// Kafka topics fed through the outbox.
const (
	TopicOrderTransitions = "order-transitions"
	TopicFetchAudit       = "fetch-audit"
)

// Mutation applies a ledger-authorized change to an order snapshot and
// names the action for the audit trail. It runs against the current
// persisted snapshot under a write lock; returning an error aborts without
// any state change.
type Mutation func(o *domain.Order) (action string, err error)

// Storage is the ledger's persistence facade. MutateOrder is the only
// write path for order state: it loads the snapshot, applies the mutation,
// bumps UpdatedAt and records the transition audit entry atomically.
type Storage interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListActive(ctx context.Context, role domain.ActorRole, actorID string) ([]*domain.Order, error)
	ListHistorical(ctx context.Context, role domain.ActorRole, actorID string) ([]*domain.Order, error)
	SearchAgents(ctx context.Context, query string, limit int) ([]domain.Agent, error)
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	MutateOrder(ctx context.Context, id string, actor Actor, fn Mutation) (*domain.Order, error)
	EnqueueTask(ctx context.Context, topic string, payload []byte) error
}

// Actor identifies who issued a mutation, for the audit trail.
type Actor struct {
	Role domain.ActorRole
	ID   string
}

// OutboxTaskRepository is consumed by the kafka publisher poll loop.
type OutboxTaskRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, task *repository.OutboxTask) error
	GetProcessableTasks(ctx context.Context, db db.DB, limit int) ([]*repository.OutboxTask, error)
	UpdateTaskStatusTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error
	UpdateTaskStatus(ctx context.Context, db db.DB, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error
}
