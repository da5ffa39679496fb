package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mealmesh/fulfillment/internal/domain"
	"github.com/mealmesh/fulfillment/internal/metrics"
	"github.com/mealmesh/fulfillment/internal/storage"
)

// Service owns every order state transition and the assignment negotiation
// rules. It is the only writer of order state; actors observe results
// through snapshots only.
type Service struct {
	storage storage.Storage
	log     *zap.Logger
	now     func() time.Time
}

func NewService(st storage.Storage, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		storage: st,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RespondResult carries what a response to an assignment request changed:
// the new snapshot, the decided request and the agents whose pending
// requests were implicitly closed by an acceptance.
type RespondResult struct {
	Order          *domain.Order
	Request        *domain.AssignmentRequest
	ClosedAgentIDs []string
}

// CancelResult carries the cancelled snapshot plus the agents whose
// pending requests the cancellation voided.
type CancelResult struct {
	Order          *domain.Order
	ClosedAgentIDs []string
}

// AcceptOrder moves a pending order to preparing with the quoted
// preparation time.
func (s *Service) AcceptOrder(ctx context.Context, orderID string, actor storage.Actor, prepTimeMinutes int) (*domain.Order, error) {
	if prepTimeMinutes < domain.MinPrepTimeMinutes {
		return nil, domain.ErrValidation(fmt.Sprintf("preparation time must be at least %d minutes", domain.MinPrepTimeMinutes))
	}
	order, err := s.storage.MutateOrder(ctx, orderID, actor, func(o *domain.Order) (string, error) {
		if !domain.CanTransition(o.Status, domain.StatusPreparing) {
			return "", domain.ErrValidation(fmt.Sprintf("cannot accept order in status %s", o.Status))
		}
		now := s.now()
		o.Status = domain.StatusPreparing
		o.AcceptedAt = &now
		o.PrepTimeMinutes = prepTimeMinutes
		return "accept-order", nil
	})
	if err != nil {
		return nil, err
	}
	metrics.OrdersAcceptedTotal.Inc()
	s.log.Info("order accepted", zap.String("order_id", orderID), zap.Int("prep_time_minutes", prepTimeMinutes))
	return order, nil
}

// UpdateStatus advances an order along the delivery path. Leaving the
// kitchen requires an assigned agent.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, actor storage.Actor, next domain.OrderStatus) (*domain.Order, error) {
	order, err := s.storage.MutateOrder(ctx, orderID, actor, func(o *domain.Order) (string, error) {
		if !domain.CanTransition(o.Status, next) {
			return "", domain.ErrValidation(fmt.Sprintf("cannot move order from %s to %s", o.Status, next))
		}
		if next == domain.StatusOutForDelivery && o.AgentID == nil {
			return "", domain.ErrValidation("order has no assigned delivery agent")
		}
		o.Status = next
		if next == domain.StatusCompleted {
			now := s.now()
			o.CompletedAt = &now
		}
		return "update-order-status", nil
	})
	if err != nil {
		return nil, err
	}
	if next == domain.StatusCompleted {
		metrics.OrdersCompletedTotal.Inc()
	}
	s.log.Info("order status updated", zap.String("order_id", orderID), zap.String("status", string(next)))
	return order, nil
}

// Cancel moves any non-terminal order to cancelled and voids outstanding
// pending requests.
func (s *Service) Cancel(ctx context.Context, orderID string, actor storage.Actor, reason string) (*CancelResult, error) {
	var closed []string
	order, err := s.storage.MutateOrder(ctx, orderID, actor, func(o *domain.Order) (string, error) {
		if o.Status.Terminal() {
			return "", domain.ErrValidation(fmt.Sprintf("order is already %s", o.Status))
		}
		now := s.now()
		o.Status = domain.StatusCancelled
		o.CancelledAt = &now
		o.CancelReason = reason
		for i := range o.AgentRequests {
			req := &o.AgentRequests[i]
			if req.Status == domain.RequestPending {
				req.Status = domain.RequestRejected
				req.RespondedAt = &now
				closed = append(closed, req.AgentID)
			}
		}
		return "cancel-order", nil
	})
	if err != nil {
		return nil, err
	}
	metrics.OrdersCancelledTotal.Inc()
	s.log.Info("order cancelled", zap.String("order_id", orderID), zap.String("reason", reason))
	return &CancelResult{Order: order, ClosedAgentIDs: closed}, nil
}

// SearchAgents returns ranked candidate agents. No server state changes.
func (s *Service) SearchAgents(ctx context.Context, query string, limit int) ([]domain.Agent, error) {
	return s.storage.SearchAgents(ctx, query, limit)
}

// SendAssignmentRequest opens a negotiation with an agent for an order in
// the kitchen. A pending or accepted request for the same agent on the
// same order is a conflict, so re-sends while pending cannot fan out.
func (s *Service) SendAssignmentRequest(ctx context.Context, orderID string, actor storage.Actor, agentID string) (*domain.Order, *domain.AssignmentRequest, error) {
	agent, err := s.storage.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			return nil, nil, domain.ErrValidation("unknown delivery agent")
		}
		return nil, nil, err
	}

	var created *domain.AssignmentRequest
	order, err := s.storage.MutateOrder(ctx, orderID, actor, func(o *domain.Order) (string, error) {
		if o.Status != domain.StatusPreparing && o.Status != domain.StatusReady {
			return "", domain.ErrValidation(fmt.Sprintf("cannot request an agent for order in status %s", o.Status))
		}
		if o.AgentID != nil {
			return "", domain.ErrConflict("order already has an assigned agent")
		}
		if o.HasOpenRequestFor(agent.ID) {
			return "", domain.ErrConflict(fmt.Sprintf("agent %s already has an open request on this order", agent.ID))
		}
		req := domain.AssignmentRequest{
			ID:        uuid.NewString(),
			AgentID:   agent.ID,
			AgentName: agent.Name,
			Status:    domain.RequestPending,
			SentAt:    s.now(),
		}
		o.AgentRequests = append(o.AgentRequests, req)
		created = &req
		return "send-assignment-request", nil
	})
	if err != nil {
		return nil, nil, err
	}
	metrics.AssignmentRequestsSentTotal.Inc()
	s.log.Info("assignment request sent",
		zap.String("order_id", orderID), zap.String("agent_id", agent.ID), zap.String("request_id", created.ID))
	return order, created, nil
}

// RespondToAssignment records the addressed agent's decision. Acceptance
// atomically assigns the agent and closes every other pending request;
// responding to a request that is no longer pending is an error, never a
// state change.
func (s *Service) RespondToAssignment(ctx context.Context, orderID, agentID string, accept bool) (*RespondResult, error) {
	result := &RespondResult{}
	actor := storage.Actor{Role: domain.RoleAgent, ID: agentID}
	order, err := s.storage.MutateOrder(ctx, orderID, actor, func(o *domain.Order) (string, error) {
		var target *domain.AssignmentRequest
		for i := range o.AgentRequests {
			if o.AgentRequests[i].AgentID == agentID && o.AgentRequests[i].Status == domain.RequestPending {
				target = &o.AgentRequests[i]
				break
			}
		}
		if target == nil {
			return "", domain.ErrValidation("no pending assignment request for this agent")
		}
		now := s.now()
		target.RespondedAt = &now
		if accept {
			target.Status = domain.RequestAccepted
			id := agentID
			o.AgentID = &id
			for i := range o.AgentRequests {
				other := &o.AgentRequests[i]
				if other.AgentID != agentID && other.Status == domain.RequestPending {
					other.Status = domain.RequestRejected
					other.RespondedAt = &now
					result.ClosedAgentIDs = append(result.ClosedAgentIDs, other.AgentID)
				}
			}
		} else {
			target.Status = domain.RequestRejected
		}
		reqCopy := *target
		result.Request = &reqCopy
		return "respond-to-assignment", nil
	})
	if err != nil {
		return nil, err
	}
	outcome := "rejected"
	if accept {
		outcome = "accepted"
	}
	metrics.AssignmentResponsesTotal.WithLabelValues(outcome).Inc()
	s.log.Info("assignment response processed",
		zap.String("order_id", orderID), zap.String("agent_id", agentID), zap.String("outcome", outcome))
	result.Order = order
	return result, nil
}

// RequestReassignment clears a rejected request so the restaurant can run
// another search cycle. Clearing a pending or accepted request is a usage
// error.
func (s *Service) RequestReassignment(ctx context.Context, orderID string, actor storage.Actor, requestID string) (*domain.Order, error) {
	order, err := s.storage.MutateOrder(ctx, orderID, actor, func(o *domain.Order) (string, error) {
		req := o.RequestByID(requestID)
		if req == nil {
			return "", domain.ErrValidation("assignment request not found on this order")
		}
		if req.Status != domain.RequestRejected {
			return "", domain.ErrValidation(fmt.Sprintf("cannot clear a request in status %s", req.Status))
		}
		kept := o.AgentRequests[:0]
		for i := range o.AgentRequests {
			if o.AgentRequests[i].ID != requestID {
				kept = append(kept, o.AgentRequests[i])
			}
		}
		o.AgentRequests = kept
		return "request-agent-reassignment", nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("assignment request cleared", zap.String("order_id", orderID), zap.String("request_id", requestID))
	return order, nil
}

// CreateOrder registers a newly placed order in pending state. Order
// placement itself (cart, checkout) happens upstream.
func (s *Service) CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.CustomerID == "" || order.RestaurantID == "" {
		return nil, domain.ErrValidation("order must reference a customer and a restaurant")
	}
	now := s.now()
	order.Status = domain.StatusPending
	order.CreatedAt = now
	order.UpdatedAt = now
	if err := s.storage.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	s.log.Info("order created", zap.String("order_id", order.ID))
	return order, nil
}
