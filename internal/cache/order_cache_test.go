package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealmesh/fulfillment/internal/domain"
)

func snapshot(id string, status domain.OrderStatus, updatedAt time.Time) *domain.Order {
	return &domain.Order{ID: id, Status: status, UpdatedAt: updatedAt}
}

func TestOrderCache_Apply(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("new active order lands in active partition", func(t *testing.T) {
		c := NewOrderCache(nil)

		require.True(t, c.Apply(snapshot("o1", domain.StatusPending, base)))

		got, ok := c.Get("o1")
		require.True(t, ok)
		assert.Equal(t, domain.StatusPending, got.Status)
		active, historical := c.Len()
		assert.Equal(t, 1, active)
		assert.Equal(t, 0, historical)
	})

	t.Run("snapshot replaces rather than merges", func(t *testing.T) {
		c := NewOrderCache(nil)
		first := snapshot("o1", domain.StatusPreparing, base)
		first.AgentRequests = []domain.AssignmentRequest{{ID: "r1", AgentID: "a1", Status: domain.RequestPending}}
		c.Apply(first)

		second := snapshot("o1", domain.StatusPreparing, base.Add(time.Second))
		require.True(t, c.Apply(second))

		got, ok := c.Get("o1")
		require.True(t, ok)
		assert.Empty(t, got.AgentRequests, "previous snapshot's requests must not survive")
	})

	t.Run("stale snapshot dropped", func(t *testing.T) {
		c := NewOrderCache(nil)
		c.Apply(snapshot("o1", domain.StatusReady, base.Add(time.Minute)))

		assert.False(t, c.Apply(snapshot("o1", domain.StatusPreparing, base)))

		got, _ := c.Get("o1")
		assert.Equal(t, domain.StatusReady, got.Status)
	})

	t.Run("terminal snapshot crosses history gate", func(t *testing.T) {
		c := NewOrderCache(nil)
		c.Apply(snapshot("o1", domain.StatusOutForDelivery, base))

		require.True(t, c.Apply(snapshot("o1", domain.StatusCompleted, base.Add(time.Minute))))

		active, historical := c.Len()
		assert.Equal(t, 0, active)
		assert.Equal(t, 1, historical)
		assert.True(t, c.InHistory("o1"))
	})

	t.Run("history gate is idempotent", func(t *testing.T) {
		c := NewOrderCache(nil)
		c.Apply(snapshot("o1", domain.StatusCancelled, base))
		c.Apply(snapshot("o1", domain.StatusCancelled, base.Add(time.Second)))

		active, historical := c.Len()
		assert.Equal(t, 0, active)
		assert.Equal(t, 1, historical)
	})

	t.Run("historical order is never resurrected", func(t *testing.T) {
		c := NewOrderCache(nil)
		c.Apply(snapshot("o1", domain.StatusCompleted, base))

		// A slow fetch response carrying the pre-terminal state arrives
		// after the terminal push event.
		assert.False(t, c.Apply(snapshot("o1", domain.StatusOutForDelivery, base.Add(time.Hour))))

		got, ok := c.Get("o1")
		require.True(t, ok)
		assert.Equal(t, domain.StatusCompleted, got.Status)
		assert.True(t, c.InHistory("o1"))
	})

	t.Run("nil and anonymous snapshots ignored", func(t *testing.T) {
		c := NewOrderCache(nil)
		assert.False(t, c.Apply(nil))
		assert.False(t, c.Apply(&domain.Order{}))
	})
}

func TestOrderCache_PendingOverlay(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("overlay shadows active until confirmed", func(t *testing.T) {
		c := NewOrderCache(nil)
		c.Apply(snapshot("o1", domain.StatusPending, base))

		c.StagePending(snapshot("o1", domain.StatusPreparing, base))

		got, ok := c.Get("o1")
		require.True(t, ok)
		assert.Equal(t, domain.StatusPreparing, got.Status)
		assert.Equal(t, domain.StatusPreparing, c.Active()["o1"].Status)
	})

	t.Run("authoritative snapshot reconciles overlay away", func(t *testing.T) {
		c := NewOrderCache(nil)
		c.Apply(snapshot("o1", domain.StatusPending, base))
		c.StagePending(snapshot("o1", domain.StatusPreparing, base))

		confirmed := snapshot("o1", domain.StatusPreparing, base.Add(time.Second))
		confirmed.PrepTimeMinutes = 20
		c.Apply(confirmed)

		got, _ := c.Get("o1")
		assert.Equal(t, 20, got.PrepTimeMinutes, "read must come from the authoritative snapshot")
	})

	t.Run("drop pending rolls back to last authoritative state", func(t *testing.T) {
		c := NewOrderCache(nil)
		c.Apply(snapshot("o1", domain.StatusPending, base))
		c.StagePending(snapshot("o1", domain.StatusPreparing, base))

		c.DropPending("o1")

		got, _ := c.Get("o1")
		assert.Equal(t, domain.StatusPending, got.Status)
	})
}

func TestOrderCache_Partitions(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewOrderCache(nil)
	c.Apply(snapshot("o1", domain.StatusPreparing, base))
	c.Apply(snapshot("o2", domain.StatusCompleted, base))

	active := c.Active()
	historical := c.Historical()

	assert.Len(t, active, 1)
	assert.Contains(t, active, "o1")
	assert.Len(t, historical, 1)
	assert.Contains(t, historical, "o2")

	// Returned maps hold copies.
	active["o1"].Status = domain.StatusCancelled
	got, _ := c.Get("o1")
	assert.Equal(t, domain.StatusPreparing, got.Status)
}
