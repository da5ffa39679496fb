package events

import (
	"fmt"
	"time"

	"github.com/mealmesh/fulfillment/internal/domain"
)

// Event names pushed by the ledger.
const (
	OrderUpdated             = "order-updated"
	NewAssignmentRequest     = "new-assignment-request"
	AssignmentRequestSent    = "assignment-request-sent"
	AssignmentRequestError   = "assignment-request-error"
	AssignmentResponse       = "assignment-response"
	AssignmentResponseDone   = "assignment-response-processed"
	AssignmentResponseError  = "assignment-response-error"
	AssignmentRequestRemoved = "assignment-request-removed"
	AgentReassignmentDone    = "agent-reassignment-done"
	AgentReassignmentError   = "agent-reassignment-error"
	SearchAgentsResult       = "search-agents-result"
	SearchAgentsError        = "search-agents-error"
	OrderCommandError        = "order-command-error"
)

// Command names accepted by the ledger.
const (
	CmdAcceptOrder         = "accept-order"
	CmdUpdateOrderStatus   = "update-order-status"
	CmdCancelOrder         = "cancel-order"
	CmdSearchAgents        = "search-agents"
	CmdSendAssignment      = "send-assignment-request"
	CmdRespondToAssignment = "respond-to-assignment"
	CmdRequestReassignment = "request-agent-reassignment"
)

// CommandSubject is the channel subject the ledger consumes commands from.
const CommandSubject = "ledger.commands"

// RoomSubject returns the per-actor subject that scopes which push events
// an actor receives.
func RoomSubject(role domain.ActorRole, actorID string) string {
	return fmt.Sprintf("room.%s.%s", role, actorID)
}

// Envelope is a single push event. Order snapshots are always complete;
// receivers replace, never merge.
type Envelope struct {
	Event   string                    `json:"event"`
	OrderID string                    `json:"order_id,omitempty"`
	Order   *domain.Order             `json:"order,omitempty"`
	Request *domain.AssignmentRequest `json:"request,omitempty"`
	Agents  []domain.Agent            `json:"agents,omitempty"`
	Query   string                    `json:"query,omitempty"`
	Error   string                    `json:"error,omitempty"`
	At      time.Time                 `json:"at"`
}

// Command is a named mutation request from an actor to the ledger.
type Command struct {
	Name            string           `json:"name"`
	ActorRole       domain.ActorRole `json:"actor_role"`
	ActorID         string           `json:"actor_id"`
	OrderID         string           `json:"order_id,omitempty"`
	PrepTimeMinutes int              `json:"prep_time_minutes,omitempty"`
	Status          string           `json:"status,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	AgentID         string           `json:"agent_id,omitempty"`
	RequestID       string           `json:"request_id,omitempty"`
	Accept          bool             `json:"accept,omitempty"`
	Query           string           `json:"query,omitempty"`
	IssuedAt        time.Time        `json:"issued_at"`
}
