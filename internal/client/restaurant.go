package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mealmesh/fulfillment/internal/channel"
	"github.com/mealmesh/fulfillment/internal/domain"
	"github.com/mealmesh/fulfillment/internal/events"
)

// SearchResultsHandler receives agent-search results, already filtered
// against stale queries and annotated with per-order pending flags.
type SearchResultsHandler func(orderID, query string, agents []domain.Agent)

// AssignmentHandler receives negotiation progress events for an order.
type AssignmentHandler func(event, orderID string, request *domain.AssignmentRequest)

// RestaurantClient is the restaurant-side endpoint: it accepts and
// advances orders and drives the agent-assignment negotiation.
type RestaurantClient struct {
	*Client

	searchMu sync.Mutex
	// searches maps order id to the query text of the most recent search.
	// A result whose echoed query no longer matches is a response to a
	// superseded search and is dropped.
	searches map[string]string

	onSearchResults SearchResultsHandler
	onAssignment    AssignmentHandler
}

func NewRestaurantClient(restaurantID string, bus channel.Bus, fetcher Fetcher, log *zap.Logger) *RestaurantClient {
	rc := &RestaurantClient{
		Client:   newClient(domain.RoleRestaurant, restaurantID, bus, fetcher, log),
		searches: make(map[string]string),
	}
	rc.roleHandler = rc.handleEvent
	return rc
}

func (rc *RestaurantClient) OnSearchResults(h SearchResultsHandler) { rc.onSearchResults = h }
func (rc *RestaurantClient) OnAssignment(h AssignmentHandler)       { rc.onAssignment = h }

// AcceptOrder quotes a preparation time and moves the order into
// preparation. The minimum-prep-time check mirrors the ledger's so the
// obvious mistake fails locally without a round trip.
func (rc *RestaurantClient) AcceptOrder(ctx context.Context, orderID string, prepTimeMinutes int) error {
	if prepTimeMinutes < domain.MinPrepTimeMinutes {
		return domain.ErrValidation("preparation time must be at least 5 minutes")
	}
	order, ok := rc.Order(orderID)
	if !ok {
		return domain.ErrObjectNotFound
	}
	if !domain.CanTransition(order.Status, domain.StatusPreparing) {
		return domain.ErrValidation("order cannot be accepted in its current status")
	}

	order.Status = domain.StatusPreparing
	order.PrepTimeMinutes = prepTimeMinutes
	return rc.issue(ctx, events.Command{
		Name:            events.CmdAcceptOrder,
		OrderID:         orderID,
		PrepTimeMinutes: prepTimeMinutes,
	}, order)
}

// MarkReady signals that preparation is done.
func (rc *RestaurantClient) MarkReady(ctx context.Context, orderID string) error {
	order, ok := rc.Order(orderID)
	if !ok {
		return domain.ErrObjectNotFound
	}
	if !domain.CanTransition(order.Status, domain.StatusReady) {
		return domain.ErrValidation("order cannot be marked ready in its current status")
	}

	order.Status = domain.StatusReady
	return rc.issue(ctx, events.Command{
		Name:    events.CmdUpdateOrderStatus,
		OrderID: orderID,
		Status:  string(domain.StatusReady),
	}, order)
}

// CancelOrder cancels a non-terminal order with a reason.
func (rc *RestaurantClient) CancelOrder(ctx context.Context, orderID, reason string) error {
	return cancelOrder(ctx, rc.Client, orderID, reason)
}

// SearchAgents starts a new search cycle for the order. Only the most
// recent query per order is live; results for earlier queries are dropped
// when they arrive.
func (rc *RestaurantClient) SearchAgents(ctx context.Context, orderID, query string) error {
	rc.searchMu.Lock()
	rc.searches[orderID] = query
	rc.searchMu.Unlock()

	// Search is read-only on the ledger, so it bypasses the per-order
	// command slot.
	return rc.publish(ctx, events.Command{
		Name:    events.CmdSearchAgents,
		OrderID: orderID,
		Query:   query,
	})
}

// SendAssignmentRequest offers the order to a candidate agent. A pending
// or accepted request for the same agent fails locally before reaching
// the ledger, which enforces the same rule authoritatively.
func (rc *RestaurantClient) SendAssignmentRequest(ctx context.Context, orderID, agentID string) error {
	order, ok := rc.Order(orderID)
	if !ok {
		return domain.ErrObjectNotFound
	}
	if order.AgentID != nil {
		return domain.ErrConflict("order already has an assigned agent")
	}
	if order.HasOpenRequestFor(agentID) {
		return domain.ErrConflict("agent already has an open request for this order")
	}

	return rc.issue(ctx, events.Command{
		Name:    events.CmdSendAssignment,
		OrderID: orderID,
		AgentID: agentID,
	}, nil)
}

// RequestReassignment clears a rejected request so a new search cycle can
// begin.
func (rc *RestaurantClient) RequestReassignment(ctx context.Context, orderID, requestID string) error {
	return rc.issue(ctx, events.Command{
		Name:      events.CmdRequestReassignment,
		OrderID:   orderID,
		RequestID: requestID,
	}, nil)
}

// ShowSearch reports whether the agent-search control should be offered
// for the order: the order is in a dispatchable status and has no
// assigned agent and no open or unresolved request.
func (rc *RestaurantClient) ShowSearch(orderID string) bool {
	order, ok := rc.Order(orderID)
	if !ok {
		return false
	}
	if order.Status != domain.StatusPreparing && order.Status != domain.StatusReady {
		return false
	}
	return order.CanOfferSearch()
}

func (rc *RestaurantClient) handleEvent(_ context.Context, ev events.Envelope) {
	switch ev.Event {
	case events.SearchAgentsResult:
		rc.searchMu.Lock()
		live := rc.searches[ev.OrderID] == ev.Query
		rc.searchMu.Unlock()
		if !live {
			rc.log.Debug("discarded stale search result",
				zap.String("order_id", ev.OrderID), zap.String("query", ev.Query))
			return
		}
		if rc.onSearchResults != nil {
			rc.onSearchResults(ev.OrderID, ev.Query, rc.annotateAgents(ev.OrderID, ev.Agents))
		}
	case events.AssignmentRequestSent, events.AssignmentResponse,
		events.AssignmentResponseDone, events.AgentReassignmentDone:
		if rc.onAssignment != nil {
			rc.onAssignment(ev.Event, ev.OrderID, ev.Request)
		}
	}
}

// annotateAgents fills the client-side pending flag so the caller can
// mark candidates that already hold an open request for this order.
func (rc *RestaurantClient) annotateAgents(orderID string, agents []domain.Agent) []domain.Agent {
	order, ok := rc.Order(orderID)
	if !ok {
		return agents
	}
	out := make([]domain.Agent, len(agents))
	for i, a := range agents {
		a.HasPendingRequest = order.HasOpenRequestFor(a.ID)
		out[i] = a
	}
	return out
}

// cancelOrder is shared between the restaurant and customer clients.
func cancelOrder(ctx context.Context, c *Client, orderID, reason string) error {
	order, ok := c.Order(orderID)
	if !ok {
		return domain.ErrObjectNotFound
	}
	if order.Status.Terminal() {
		return domain.ErrValidation("order is already resolved")
	}

	order.Status = domain.StatusCancelled
	order.CancelReason = reason
	now := time.Now().UTC()
	order.CancelledAt = &now
	return c.issue(ctx, events.Command{
		Name:    events.CmdCancelOrder,
		OrderID: orderID,
		Reason:  reason,
	}, order)
}
