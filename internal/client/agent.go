package client

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/mealmesh/fulfillment/internal/channel"
	"github.com/mealmesh/fulfillment/internal/domain"
	"github.com/mealmesh/fulfillment/internal/events"
)

// IncomingRequest pairs an assignment request with the order snapshot it
// arrived with, as presented to the agent for a decision.
type IncomingRequest struct {
	Order   *domain.Order
	Request *domain.AssignmentRequest
}

// IncomingHandler is notified when the agent's incoming-request list
// changes: a new offer arrived or an offer was withdrawn.
type IncomingHandler func(orderID string, removed bool)

// AgentClient is the delivery-agent-side endpoint: it tracks the open
// offers addressed to this agent and answers them.
type AgentClient struct {
	*Client

	reqMu    sync.Mutex
	incoming map[string]*IncomingRequest

	onIncoming IncomingHandler
}

func NewAgentClient(agentID string, bus channel.Bus, fetcher Fetcher, log *zap.Logger) *AgentClient {
	ac := &AgentClient{
		Client:   newClient(domain.RoleAgent, agentID, bus, fetcher, log),
		incoming: make(map[string]*IncomingRequest),
	}
	ac.roleHandler = ac.handleEvent
	return ac
}

func (ac *AgentClient) OnIncoming(h IncomingHandler) { ac.onIncoming = h }

// RespondToAssignment accepts or rejects the pending offer on an order.
func (ac *AgentClient) RespondToAssignment(ctx context.Context, orderID string, accept bool) error {
	order, ok := ac.Order(orderID)
	if !ok {
		ac.reqMu.Lock()
		_, ok = ac.incoming[orderID]
		ac.reqMu.Unlock()
		if !ok {
			return domain.ErrObjectNotFound
		}
	}
	if order != nil && !order.PendingRequestFor(ac.actorID) {
		return domain.ErrValidation("no pending assignment request for this order")
	}

	return ac.issue(ctx, events.Command{
		Name:    events.CmdRespondToAssignment,
		OrderID: orderID,
		Accept:  accept,
	}, nil)
}

// MarkPickedUp signals that the agent collected the order and is on the
// way to the customer.
func (ac *AgentClient) MarkPickedUp(ctx context.Context, orderID string) error {
	return ac.updateStatus(ctx, orderID, domain.StatusOutForDelivery)
}

// MarkDelivered completes the order.
func (ac *AgentClient) MarkDelivered(ctx context.Context, orderID string) error {
	return ac.updateStatus(ctx, orderID, domain.StatusCompleted)
}

func (ac *AgentClient) updateStatus(ctx context.Context, orderID string, next domain.OrderStatus) error {
	order, ok := ac.Order(orderID)
	if !ok {
		return domain.ErrObjectNotFound
	}
	if !domain.CanTransition(order.Status, next) {
		return domain.ErrValidation("order cannot move to " + string(next) + " from its current status")
	}

	order.Status = next
	return ac.issue(ctx, events.Command{
		Name:    events.CmdUpdateOrderStatus,
		OrderID: orderID,
		Status:  string(next),
	}, order)
}

// IncomingRequests returns the open offers addressed to this agent,
// newest first.
func (ac *AgentClient) IncomingRequests() []*IncomingRequest {
	ac.reqMu.Lock()
	defer ac.reqMu.Unlock()
	out := make([]*IncomingRequest, 0, len(ac.incoming))
	for _, r := range ac.incoming {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Request.SentAt.After(out[j].Request.SentAt)
	})
	return out
}

func (ac *AgentClient) handleEvent(_ context.Context, ev events.Envelope) {
	switch ev.Event {
	case events.NewAssignmentRequest:
		if ev.Order == nil || ev.Request == nil {
			return
		}
		ac.reqMu.Lock()
		ac.incoming[ev.OrderID] = &IncomingRequest{Order: ev.Order, Request: ev.Request}
		ac.reqMu.Unlock()
		ac.log.Info("incoming assignment request",
			zap.String("order_id", ev.OrderID), zap.String("request_id", ev.Request.ID))
		if ac.onIncoming != nil {
			ac.onIncoming(ev.OrderID, false)
		}
	case events.AssignmentRequestRemoved:
		ac.removeIncoming(ev.OrderID)
	case events.OrderUpdated:
		// The offer list follows the authoritative snapshot: once this
		// agent's request is no longer pending, the offer is gone.
		if ev.Order != nil && !ev.Order.PendingRequestFor(ac.actorID) {
			ac.removeIncoming(ev.OrderID)
		}
	}
}

func (ac *AgentClient) removeIncoming(orderID string) {
	ac.reqMu.Lock()
	_, ok := ac.incoming[orderID]
	delete(ac.incoming, orderID)
	ac.reqMu.Unlock()
	if ok && ac.onIncoming != nil {
		ac.onIncoming(orderID, true)
	}
}
