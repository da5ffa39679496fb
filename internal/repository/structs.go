package repository

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrObjectNotFound = errors.New("not found")

type Order struct {
	ID              string          `db:"id"`
	Status          string          `db:"status"`
	CustomerID      string          `db:"customer_id"`
	CustomerName    string          `db:"customer_name"`
	RestaurantID    string          `db:"restaurant_id"`
	RestaurantName  string          `db:"restaurant_name"`
	AgentID         *string         `db:"agent_id"`
	Items           json.RawMessage `db:"items"`
	TotalAmount     int             `db:"total_amount"`
	DeliveryAddress string          `db:"delivery_address"`
	Notes           string          `db:"notes"`
	PrepTimeMinutes int             `db:"prep_time_minutes"`
	CancelReason    string          `db:"cancel_reason"`
	CreatedAt       time.Time       `db:"created_at"`
	AcceptedAt      *time.Time      `db:"accepted_at"`
	CancelledAt     *time.Time      `db:"cancelled_at"`
	CompletedAt     *time.Time      `db:"completed_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

type AgentRequest struct {
	ID          string     `db:"id"`
	OrderID     string     `db:"order_id"`
	AgentID     string     `db:"agent_id"`
	AgentName   string     `db:"agent_name"`
	Status      string     `db:"status"`
	SentAt      time.Time  `db:"sent_at"`
	RespondedAt *time.Time `db:"responded_at"`
}

type Agent struct {
	ID     string  `db:"id"`
	Name   string  `db:"name"`
	Phone  string  `db:"phone"`
	Rating float32 `db:"rating"`
	Active bool    `db:"active"`
}

type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "CREATED"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusDone       TaskStatus = "DONE"
)

type OutboxTask struct {
	ID          uuid.UUID       `db:"id"`
	Status      TaskStatus      `db:"status"`
	Payload     json.RawMessage `db:"payload"`
	Topic       string          `db:"topic"`
	Attempts    int             `db:"attempts"`
	LastError   *string         `db:"last_error"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
	CompletedAt *time.Time      `db:"completed_at"`
}

// TransitionPayload is the audit-trail message enqueued alongside every
// accepted state transition.
type TransitionPayload struct {
	OrderID   string    `json:"order_id"`
	Action    string    `json:"action"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	ActorRole string    `json:"actor_role,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	At        time.Time `json:"at"`
}

// FetchAuditPayload records one request against the fetch API.
type FetchAuditPayload struct {
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"user_id,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Handler    string    `json:"handler"`
	StatusCode int       `json:"status_code"`
}
