package domain

import (
	"encoding/json"
	"time"
)

type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusPreparing      OrderStatus = "preparing"
	StatusReady          OrderStatus = "ready"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusCompleted      OrderStatus = "completed"
	StatusCancelled      OrderStatus = "cancelled"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// MinPrepTimeMinutes is the lowest preparation time a restaurant may quote
// when accepting an order.
const MinPrepTimeMinutes = 5

type ActorRole string

const (
	RoleCustomer   ActorRole = "customer"
	RoleRestaurant ActorRole = "restaurant"
	RoleAgent      ActorRole = "agent"
)

// Order is the canonical fulfillment record. The ledger is the only writer;
// every actor holds read-only snapshots of it.
type Order struct {
	ID              string              `json:"id"`
	Status          OrderStatus         `json:"status"`
	CustomerID      string              `json:"customer_id"`
	CustomerName    string              `json:"customer_name,omitempty"`
	RestaurantID    string              `json:"restaurant_id"`
	RestaurantName  string              `json:"restaurant_name,omitempty"`
	AgentID         *string             `json:"agent_id,omitempty"`
	AgentRequests   []AssignmentRequest `json:"agent_requests,omitempty"`
	Items           json.RawMessage     `json:"items,omitempty"`
	TotalAmount     int                 `json:"total_amount"`
	DeliveryAddress string              `json:"delivery_address,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	PrepTimeMinutes int                 `json:"prep_time_minutes,omitempty"`
	CancelReason    string              `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	AcceptedAt      *time.Time          `json:"accepted_at,omitempty"`
	CancelledAt     *time.Time          `json:"cancelled_at,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// AssignmentRequest is one negotiation attempt pairing an order with a
// candidate delivery agent.
type AssignmentRequest struct {
	ID          string        `json:"id"`
	AgentID     string        `json:"agent_id"`
	AgentName   string        `json:"agent_name,omitempty"`
	Status      RequestStatus `json:"status"`
	SentAt      time.Time     `json:"sent_at"`
	RespondedAt *time.Time    `json:"responded_at,omitempty"`
}

// Agent is a delivery agent snapshot as returned by a search. The
// HasPendingRequest flag is filled in client-side against the current order
// and is never persisted.
type Agent struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Phone             string  `json:"phone,omitempty"`
	Rating            float32 `json:"rating"`
	HasPendingRequest bool    `json:"has_pending_request,omitempty"`
}

func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:        {StatusPreparing, StatusCancelled},
	StatusPreparing:      {StatusReady, StatusCancelled},
	StatusReady:          {StatusOutForDelivery, StatusCancelled},
	StatusOutForDelivery: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the status machine permits from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AcceptedRequest returns the accepted assignment request, if any. The
// ledger guarantees at most one per order.
func (o *Order) AcceptedRequest() *AssignmentRequest {
	for i := range o.AgentRequests {
		if o.AgentRequests[i].Status == RequestAccepted {
			return &o.AgentRequests[i]
		}
	}
	return nil
}

// RequestByID finds an assignment request on this order by its id.
func (o *Order) RequestByID(id string) *AssignmentRequest {
	for i := range o.AgentRequests {
		if o.AgentRequests[i].ID == id {
			return &o.AgentRequests[i]
		}
	}
	return nil
}

// HasOpenRequestFor reports whether agentID already has a pending or
// accepted request on this order. Used as the duplicate-send guard.
func (o *Order) HasOpenRequestFor(agentID string) bool {
	for i := range o.AgentRequests {
		r := &o.AgentRequests[i]
		if r.AgentID == agentID && (r.Status == RequestPending || r.Status == RequestAccepted) {
			return true
		}
	}
	return false
}

// PendingRequestFor reports whether agentID has a pending request on this
// order.
func (o *Order) PendingRequestFor(agentID string) bool {
	for i := range o.AgentRequests {
		if o.AgentRequests[i].AgentID == agentID && o.AgentRequests[i].Status == RequestPending {
			return true
		}
	}
	return false
}

// CanOfferSearch reports whether the restaurant may start a new agent
// search cycle: no assigned agent, no pending request and no rejected
// request still waiting to be cleared.
func (o *Order) CanOfferSearch() bool {
	if o.AgentID != nil {
		return false
	}
	for i := range o.AgentRequests {
		switch o.AgentRequests[i].Status {
		case RequestPending, RequestAccepted, RequestRejected:
			return false
		}
	}
	return true
}

// Validate checks the structural invariants the ledger must uphold: at most
// one accepted request, and an assigned agent iff exactly one request is
// accepted.
func (o *Order) Validate() error {
	accepted := 0
	for i := range o.AgentRequests {
		if o.AgentRequests[i].Status == RequestAccepted {
			accepted++
		}
	}
	if accepted > 1 {
		return ErrValidation("order has more than one accepted assignment request")
	}
	if o.AgentID != nil && accepted != 1 {
		return ErrValidation("order has an agent but no accepted assignment request")
	}
	if o.AgentID == nil && accepted == 1 {
		return ErrValidation("order has an accepted assignment request but no agent")
	}
	return nil
}

// Clone returns a deep copy of the order, so cache readers never alias the
// cached value.
func (o *Order) Clone() *Order {
	cp := *o
	if o.AgentID != nil {
		id := *o.AgentID
		cp.AgentID = &id
	}
	if o.AgentRequests != nil {
		cp.AgentRequests = make([]AssignmentRequest, len(o.AgentRequests))
		copy(cp.AgentRequests, o.AgentRequests)
	}
	if o.Items != nil {
		cp.Items = make(json.RawMessage, len(o.Items))
		copy(cp.Items, o.Items)
	}
	cp.AcceptedAt = cloneTime(o.AcceptedAt)
	cp.CancelledAt = cloneTime(o.CancelledAt)
	cp.CompletedAt = cloneTime(o.CompletedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
