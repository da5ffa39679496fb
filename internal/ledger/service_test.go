package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealmesh/fulfillment/internal/domain"
	"github.com/mealmesh/fulfillment/internal/storage"
)

var testAgents = []domain.Agent{
	{ID: "agent-1", Name: "Marco", Phone: "+100", Rating: 4.9},
	{ID: "agent-2", Name: "Dana", Phone: "+200", Rating: 4.5},
	{ID: "agent-3", Name: "Lee", Phone: "+300", Rating: 4.1},
}

func newTestService(t *testing.T) (*Service, *storage.FileStorage) {
	t.Helper()

	fs, err := storage.NewFileStorage(filepath.Join(t.TempDir(), "ledger.json"), nil)
	require.NoError(t, err)
	require.NoError(t, fs.SeedAgents(testAgents))

	svc := NewService(fs, nil)
	fixed := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	return svc, fs
}

func placeOrder(t *testing.T, svc *Service) *domain.Order {
	t.Helper()
	order, err := svc.CreateOrder(context.Background(), &domain.Order{
		CustomerID:   "cust-1",
		RestaurantID: "rest-1",
		TotalAmount:  2500,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, order.Status)
	return order
}

func restaurant() storage.Actor {
	return storage.Actor{Role: domain.RoleRestaurant, ID: "rest-1"}
}

func TestService_AcceptOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("pending order moves to preparing", func(t *testing.T) {
		svc, _ := newTestService(t)
		order := placeOrder(t, svc)

		got, err := svc.AcceptOrder(ctx, order.ID, restaurant(), 20)
		require.NoError(t, err)

		assert.Equal(t, domain.StatusPreparing, got.Status)
		assert.Equal(t, 20, got.PrepTimeMinutes)
		require.NotNil(t, got.AcceptedAt)
	})

	t.Run("preparation time below minimum rejected", func(t *testing.T) {
		svc, _ := newTestService(t)
		order := placeOrder(t, svc)

		_, err := svc.AcceptOrder(ctx, order.ID, restaurant(), 4)
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))

		// Rejection must not touch state.
		got, err := svc.storage.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status)
	})

	t.Run("accepting twice rejected", func(t *testing.T) {
		svc, _ := newTestService(t)
		order := placeOrder(t, svc)

		_, err := svc.AcceptOrder(ctx, order.ID, restaurant(), 20)
		require.NoError(t, err)

		_, err = svc.AcceptOrder(ctx, order.ID, restaurant(), 20)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("unknown order", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.AcceptOrder(ctx, "missing", restaurant(), 20)
		assert.ErrorIs(t, err, domain.ErrObjectNotFound)
	})
}

func TestService_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("preparing to ready", func(t *testing.T) {
		svc, _ := newTestService(t)
		order := placeOrder(t, svc)
		_, err := svc.AcceptOrder(ctx, order.ID, restaurant(), 20)
		require.NoError(t, err)

		got, err := svc.UpdateStatus(ctx, order.ID, restaurant(), domain.StatusReady)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusReady, got.Status)
	})

	t.Run("out for delivery requires an agent", func(t *testing.T) {
		svc, _ := newTestService(t)
		order := placeOrder(t, svc)
		_, err := svc.AcceptOrder(ctx, order.ID, restaurant(), 20)
		require.NoError(t, err)
		_, err = svc.UpdateStatus(ctx, order.ID, restaurant(), domain.StatusReady)
		require.NoError(t, err)

		_, err = svc.UpdateStatus(ctx, order.ID, restaurant(), domain.StatusOutForDelivery)
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("forbidden transition rejected", func(t *testing.T) {
		svc, _ := newTestService(t)
		order := placeOrder(t, svc)

		_, err := svc.UpdateStatus(ctx, order.ID, restaurant(), domain.StatusCompleted)
		assert.True(t, domain.IsValidation(err))
	})
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancel voids outstanding pending requests", func(t *testing.T) {
		svc, _ := newTestService(t)
		order := placeOrder(t, svc)
		_, err := svc.AcceptOrder(ctx, order.ID, restaurant(), 20)
		require.NoError(t, err)
		_, _, err = svc.SendAssignmentRequest(ctx, order.ID, restaurant(), "agent-1")
		require.NoError(t, err)

		result, err := svc.Cancel(ctx, order.ID, restaurant(), "kitchen closed")
		require.NoError(t, err)

		assert.Equal(t, domain.StatusCancelled, result.Order.Status)
		assert.Equal(t, "kitchen closed", result.Order.CancelReason)
		assert.Equal(t, []string{"agent-1"}, result.ClosedAgentIDs)
		require.NotNil(t, result.Order.CancelledAt)
	})

	t.Run("cancelling a resolved order rejected", func(t *testing.T) {
		svc, _ := newTestService(t)
		order := placeOrder(t, svc)
		_, err := svc.Cancel(ctx, order.ID, restaurant(), "first")
		require.NoError(t, err)

		_, err = svc.Cancel(ctx, order.ID, restaurant(), "second")
		assert.True(t, domain.IsValidation(err))
	})
}

func TestService_SearchAgents(t *testing.T) {
	svc, _ := newTestService(t)

	agents, err := svc.SearchAgents(context.Background(), "", 20)
	require.NoError(t, err)

	require.Len(t, agents, 3)
	assert.Equal(t, "agent-1", agents[0].ID, "results ranked by rating")
	assert.Equal(t, "agent-3", agents[2].ID)
}

func TestService_SendAssignmentRequest(t *testing.T) {
	ctx := context.Background()

	prepare := func(t *testing.T) (*Service, string) {
		svc, _ := newTestService(t)
		order := placeOrder(t, svc)
		_, err := svc.AcceptOrder(ctx, order.ID, restaurant(), 20)
		require.NoError(t, err)
		return svc, order.ID
	}

	t.Run("creates a pending request", func(t *testing.T) {
		svc, orderID := prepare(t)

		order, req, err := svc.SendAssignmentRequest(ctx, orderID, restaurant(), "agent-1")
		require.NoError(t, err)

		require.NotNil(t, req)
		assert.NotEmpty(t, req.ID)
		assert.Equal(t, "agent-1", req.AgentID)
		assert.Equal(t, "Marco", req.AgentName)
		assert.Equal(t, domain.RequestPending, req.Status)
		require.Len(t, order.AgentRequests, 1)
	})

	t.Run("duplicate send while pending is a conflict", func(t *testing.T) {
		svc, orderID := prepare(t)
		_, _, err := svc.SendAssignmentRequest(ctx, orderID, restaurant(), "agent-1")
		require.NoError(t, err)

		_, _, err = svc.SendAssignmentRequest(ctx, orderID, restaurant(), "agent-1")
		require.Error(t, err)
		assert.True(t, domain.IsConflict(err))

		order, err := svc.storage.GetOrder(ctx, orderID)
		require.NoError(t, err)
		assert.Len(t, order.AgentRequests, 1, "conflict must not fan out a second request")
	})

	t.Run("unknown agent rejected", func(t *testing.T) {
		svc, orderID := prepare(t)

		_, _, err := svc.SendAssignmentRequest(ctx, orderID, restaurant(), "ghost")
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("order still pending rejected", func(t *testing.T) {
		svc, _ := newTestService(t)
		order := placeOrder(t, svc)

		_, _, err := svc.SendAssignmentRequest(ctx, order.ID, restaurant(), "agent-1")
		assert.True(t, domain.IsValidation(err))
	})
}

func TestService_RespondToAssignment(t *testing.T) {
	ctx := context.Background()

	prepare := func(t *testing.T, agentIDs ...string) (*Service, string) {
		svc, _ := newTestService(t)
		order := placeOrder(t, svc)
		_, err := svc.AcceptOrder(ctx, order.ID, restaurant(), 20)
		require.NoError(t, err)
		for _, id := range agentIDs {
			_, _, err := svc.SendAssignmentRequest(ctx, order.ID, restaurant(), id)
			require.NoError(t, err)
		}
		return svc, order.ID
	}

	t.Run("acceptance assigns agent and closes other pendings", func(t *testing.T) {
		svc, orderID := prepare(t, "agent-1", "agent-2", "agent-3")

		result, err := svc.RespondToAssignment(ctx, orderID, "agent-2", true)
		require.NoError(t, err)

		require.NotNil(t, result.Order.AgentID)
		assert.Equal(t, "agent-2", *result.Order.AgentID)
		assert.Equal(t, domain.RequestAccepted, result.Request.Status)
		assert.ElementsMatch(t, []string{"agent-1", "agent-3"}, result.ClosedAgentIDs)
		assert.NoError(t, result.Order.Validate())
	})

	t.Run("rejection leaves order unassigned", func(t *testing.T) {
		svc, orderID := prepare(t, "agent-1")

		result, err := svc.RespondToAssignment(ctx, orderID, "agent-1", false)
		require.NoError(t, err)

		assert.Nil(t, result.Order.AgentID)
		assert.Equal(t, domain.RequestRejected, result.Request.Status)
		assert.Empty(t, result.ClosedAgentIDs)
	})

	t.Run("responding to a decided request is an error not a change", func(t *testing.T) {
		svc, orderID := prepare(t, "agent-1")
		_, err := svc.RespondToAssignment(ctx, orderID, "agent-1", false)
		require.NoError(t, err)

		_, err = svc.RespondToAssignment(ctx, orderID, "agent-1", true)
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))

		order, err := svc.storage.GetOrder(ctx, orderID)
		require.NoError(t, err)
		assert.Nil(t, order.AgentID)
		assert.Equal(t, domain.RequestRejected, order.AgentRequests[0].Status)
	})

	t.Run("no request for this agent", func(t *testing.T) {
		svc, orderID := prepare(t, "agent-1")

		_, err := svc.RespondToAssignment(ctx, orderID, "agent-2", true)
		assert.True(t, domain.IsValidation(err))
	})
}

func TestService_RequestReassignment(t *testing.T) {
	ctx := context.Background()

	t.Run("clears a rejected request", func(t *testing.T) {
		svc, _ := newTestService(t)
		order := placeOrder(t, svc)
		_, err := svc.AcceptOrder(ctx, order.ID, restaurant(), 20)
		require.NoError(t, err)
		_, req, err := svc.SendAssignmentRequest(ctx, order.ID, restaurant(), "agent-1")
		require.NoError(t, err)
		_, err = svc.RespondToAssignment(ctx, order.ID, "agent-1", false)
		require.NoError(t, err)

		got, err := svc.RequestReassignment(ctx, order.ID, restaurant(), req.ID)
		require.NoError(t, err)

		assert.Empty(t, got.AgentRequests)
		assert.True(t, got.CanOfferSearch(), "a new search cycle may begin")
	})

	t.Run("clearing a pending request rejected", func(t *testing.T) {
		svc, _ := newTestService(t)
		order := placeOrder(t, svc)
		_, err := svc.AcceptOrder(ctx, order.ID, restaurant(), 20)
		require.NoError(t, err)
		_, req, err := svc.SendAssignmentRequest(ctx, order.ID, restaurant(), "agent-1")
		require.NoError(t, err)

		_, err = svc.RequestReassignment(ctx, order.ID, restaurant(), req.ID)
		assert.True(t, domain.IsValidation(err))
	})
}

// TestService_FullDeliveryFlow walks one order through the whole happy
// path: accept, search, assign, respond, ready, pick up, complete.
func TestService_FullDeliveryFlow(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	order := placeOrder(t, svc)
	agent := storage.Actor{Role: domain.RoleAgent, ID: "agent-1"}

	_, err := svc.AcceptOrder(ctx, order.ID, restaurant(), 25)
	require.NoError(t, err)

	agents, err := svc.SearchAgents(ctx, "mar", 20)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	require.Equal(t, "agent-1", agents[0].ID)

	_, _, err = svc.SendAssignmentRequest(ctx, order.ID, restaurant(), "agent-1")
	require.NoError(t, err)

	result, err := svc.RespondToAssignment(ctx, order.ID, "agent-1", true)
	require.NoError(t, err)
	require.NotNil(t, result.Order.AgentID)

	_, err = svc.UpdateStatus(ctx, order.ID, restaurant(), domain.StatusReady)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, order.ID, agent, domain.StatusOutForDelivery)
	require.NoError(t, err)

	final, err := svc.UpdateStatus(ctx, order.ID, agent, domain.StatusCompleted)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, final.Status)
	require.NotNil(t, final.CompletedAt)
	assert.NoError(t, final.Validate())

	historical, err := svc.storage.ListHistorical(ctx, domain.RoleCustomer, "cust-1")
	require.NoError(t, err)
	assert.Len(t, historical, 1)
}
