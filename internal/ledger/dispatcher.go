package ledger

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/mealmesh/fulfillment/internal/channel"
	"github.com/mealmesh/fulfillment/internal/domain"
	"github.com/mealmesh/fulfillment/internal/events"
	"github.com/mealmesh/fulfillment/internal/metrics"
	"github.com/mealmesh/fulfillment/internal/storage"
)

// Dispatcher consumes commands from the channel, routes them to the
// service and pushes the resulting events to every implicated actor room.
// Errors are pushed only to the issuing actor; no other cache may observe
// another actor's failure.
type Dispatcher struct {
	service *Service
	bus     channel.Bus
	log     *zap.Logger
	sub     channel.Subscription
}

func NewDispatcher(service *Service, bus channel.Bus, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{service: service, bus: bus, log: log}
}

// Start subscribes the command subject. The subscription lives until Close
// or ctx cancellation.
func (d *Dispatcher) Start(ctx context.Context) error {
	sub, err := d.bus.Subscribe(ctx, events.CommandSubject, d.handleCommand)
	if err != nil {
		return err
	}
	d.sub = sub
	return nil
}

func (d *Dispatcher) Close() error {
	if d.sub == nil {
		return nil
	}
	return d.sub.Unsubscribe()
}

func (d *Dispatcher) handleCommand(ctx context.Context, data []byte) {
	var cmd events.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		d.log.Warn("dispatcher: undecodable command dropped", zap.Error(err))
		return
	}

	l := d.log.With(
		zap.String("command", cmd.Name),
		zap.String("actor", string(cmd.ActorRole)+":"+cmd.ActorID),
		zap.String("order_id", cmd.OrderID),
	)

	var err error
	switch cmd.Name {
	case events.CmdAcceptOrder:
		err = d.acceptOrder(ctx, cmd)
	case events.CmdUpdateOrderStatus:
		err = d.updateStatus(ctx, cmd)
	case events.CmdCancelOrder:
		err = d.cancelOrder(ctx, cmd)
	case events.CmdSearchAgents:
		err = d.searchAgents(ctx, cmd)
	case events.CmdSendAssignment:
		err = d.sendAssignment(ctx, cmd)
	case events.CmdRespondToAssignment:
		err = d.respondToAssignment(ctx, cmd)
	case events.CmdRequestReassignment:
		err = d.requestReassignment(ctx, cmd)
	default:
		l.Warn("dispatcher: unknown command dropped")
		return
	}

	if err != nil {
		metrics.CommandErrorsTotal.WithLabelValues(cmd.Name).Inc()
		l.Warn("dispatcher: command rejected", zap.Error(err))
		d.pushError(ctx, cmd, err)
	}
}

func (d *Dispatcher) actor(cmd events.Command) storage.Actor {
	return storage.Actor{Role: cmd.ActorRole, ID: cmd.ActorID}
}

func (d *Dispatcher) acceptOrder(ctx context.Context, cmd events.Command) error {
	order, err := d.service.AcceptOrder(ctx, cmd.OrderID, d.actor(cmd), cmd.PrepTimeMinutes)
	if err != nil {
		return err
	}
	d.pushOrderUpdated(ctx, order, nil)
	return nil
}

func (d *Dispatcher) updateStatus(ctx context.Context, cmd events.Command) error {
	order, err := d.service.UpdateStatus(ctx, cmd.OrderID, d.actor(cmd), domain.OrderStatus(cmd.Status))
	if err != nil {
		return err
	}
	d.pushOrderUpdated(ctx, order, nil)
	return nil
}

func (d *Dispatcher) cancelOrder(ctx context.Context, cmd events.Command) error {
	result, err := d.service.Cancel(ctx, cmd.OrderID, d.actor(cmd), cmd.Reason)
	if err != nil {
		return err
	}
	d.pushOrderUpdated(ctx, result.Order, result.ClosedAgentIDs)
	for _, agentID := range result.ClosedAgentIDs {
		d.push(ctx, events.RoomSubject(domain.RoleAgent, agentID), events.Envelope{
			Event:   events.AssignmentRequestRemoved,
			OrderID: result.Order.ID,
			Order:   result.Order,
		})
	}
	return nil
}

func (d *Dispatcher) searchAgents(ctx context.Context, cmd events.Command) error {
	agents, err := d.service.SearchAgents(ctx, cmd.Query, 20)
	if err != nil {
		return err
	}
	d.push(ctx, events.RoomSubject(cmd.ActorRole, cmd.ActorID), events.Envelope{
		Event:   events.SearchAgentsResult,
		OrderID: cmd.OrderID,
		Agents:  agents,
		Query:   cmd.Query,
	})
	return nil
}

func (d *Dispatcher) sendAssignment(ctx context.Context, cmd events.Command) error {
	order, request, err := d.service.SendAssignmentRequest(ctx, cmd.OrderID, d.actor(cmd), cmd.AgentID)
	if err != nil {
		return err
	}
	d.push(ctx, events.RoomSubject(domain.RoleRestaurant, order.RestaurantID), events.Envelope{
		Event:   events.AssignmentRequestSent,
		OrderID: order.ID,
		Order:   order,
		Request: request,
	})
	d.push(ctx, events.RoomSubject(domain.RoleAgent, request.AgentID), events.Envelope{
		Event:   events.NewAssignmentRequest,
		OrderID: order.ID,
		Order:   order,
		Request: request,
	})
	d.pushOrderUpdated(ctx, order, nil)
	return nil
}

func (d *Dispatcher) respondToAssignment(ctx context.Context, cmd events.Command) error {
	result, err := d.service.RespondToAssignment(ctx, cmd.OrderID, cmd.ActorID, cmd.Accept)
	if err != nil {
		return err
	}
	restaurantRoom := events.RoomSubject(domain.RoleRestaurant, result.Order.RestaurantID)
	d.push(ctx, restaurantRoom, events.Envelope{
		Event:   events.AssignmentResponse,
		OrderID: result.Order.ID,
		Order:   result.Order,
		Request: result.Request,
	})
	d.push(ctx, restaurantRoom, events.Envelope{
		Event:   events.AssignmentResponseDone,
		OrderID: result.Order.ID,
		Order:   result.Order,
		Request: result.Request,
	})
	for _, agentID := range result.ClosedAgentIDs {
		d.push(ctx, events.RoomSubject(domain.RoleAgent, agentID), events.Envelope{
			Event:   events.AssignmentRequestRemoved,
			OrderID: result.Order.ID,
			Order:   result.Order,
		})
	}
	// The responder itself may no longer be pending or assigned after a
	// rejection, so it is addressed explicitly.
	d.pushOrderUpdated(ctx, result.Order, append(result.ClosedAgentIDs, cmd.ActorID))
	return nil
}

func (d *Dispatcher) requestReassignment(ctx context.Context, cmd events.Command) error {
	order, err := d.service.RequestReassignment(ctx, cmd.OrderID, d.actor(cmd), cmd.RequestID)
	if err != nil {
		return err
	}
	d.push(ctx, events.RoomSubject(domain.RoleRestaurant, order.RestaurantID), events.Envelope{
		Event:   events.AgentReassignmentDone,
		OrderID: order.ID,
		Order:   order,
	})
	d.pushOrderUpdated(ctx, order, nil)
	return nil
}

// pushOrderUpdated broadcasts the authoritative snapshot to every actor
// whose role is implicated: the customer, the restaurant, the assigned
// agent and every agent with a pending request. extraAgents covers agents
// whose request was just closed and who must still observe the final
// snapshot.
func (d *Dispatcher) pushOrderUpdated(ctx context.Context, order *domain.Order, extraAgents []string) {
	ev := events.Envelope{
		Event:   events.OrderUpdated,
		OrderID: order.ID,
		Order:   order,
	}
	rooms := map[string]struct{}{
		events.RoomSubject(domain.RoleCustomer, order.CustomerID):     {},
		events.RoomSubject(domain.RoleRestaurant, order.RestaurantID): {},
	}
	if order.AgentID != nil {
		rooms[events.RoomSubject(domain.RoleAgent, *order.AgentID)] = struct{}{}
	}
	for i := range order.AgentRequests {
		if order.AgentRequests[i].Status == domain.RequestPending {
			rooms[events.RoomSubject(domain.RoleAgent, order.AgentRequests[i].AgentID)] = struct{}{}
		}
	}
	for _, agentID := range extraAgents {
		rooms[events.RoomSubject(domain.RoleAgent, agentID)] = struct{}{}
	}
	for room := range rooms {
		d.push(ctx, room, ev)
	}
}

func (d *Dispatcher) push(ctx context.Context, room string, ev events.Envelope) {
	ev.At = time.Now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		d.log.Error("dispatcher: failed to encode event", zap.String("event", ev.Event), zap.Error(err))
		return
	}
	if err := d.bus.Publish(ctx, room, data); err != nil {
		d.log.Error("dispatcher: failed to publish event",
			zap.String("event", ev.Event), zap.String("room", room), zap.Error(err))
		return
	}
	metrics.PushEventsTotal.WithLabelValues(ev.Event).Inc()
}

// pushError routes a command failure back to the issuing actor only, using
// the error event matching the command family.
func (d *Dispatcher) pushError(ctx context.Context, cmd events.Command, cmdErr error) {
	name := events.OrderCommandError
	switch cmd.Name {
	case events.CmdSendAssignment:
		name = events.AssignmentRequestError
	case events.CmdRespondToAssignment:
		name = events.AssignmentResponseError
	case events.CmdRequestReassignment:
		name = events.AgentReassignmentError
	case events.CmdSearchAgents:
		name = events.SearchAgentsError
	}
	d.push(ctx, events.RoomSubject(cmd.ActorRole, cmd.ActorID), events.Envelope{
		Event:   name,
		OrderID: cmd.OrderID,
		Query:   cmd.Query,
		Error:   cmdErr.Error(),
	})
}
