package cache

import (
	"sync"

	"go.uber.org/zap"

	"github.com/mealmesh/fulfillment/internal/domain"
	"github.com/mealmesh/fulfillment/internal/metrics"
)

// OrderCache is one actor's local view of its orders, partitioned into
// active and historical. Apply is the single mutator: every snapshot,
// whether from a fetch response or a push event, goes through the same
// reconciliation rules, so the cache converges regardless of arrival order.
type OrderCache struct {
	mu         sync.RWMutex
	active     map[string]*domain.Order
	historical map[string]*domain.Order
	pending    map[string]*domain.Order
	log        *zap.Logger
}

func NewOrderCache(log *zap.Logger) *OrderCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderCache{
		active:     make(map[string]*domain.Order),
		historical: make(map[string]*domain.Order),
		pending:    make(map[string]*domain.Order),
		log:        log,
	}
}

// Apply reconciles an authoritative snapshot into the cache. Snapshots
// fully replace the previous value; there is no field-level merge. A
// snapshot older than the cached one (by UpdatedAt) is dropped, which makes
// the last-writer-wins policy safe when a slow fetch response lands after a
// newer push event. Returns false if the snapshot was discarded as stale.
func (c *OrderCache) Apply(order *domain.Order) bool {
	if order == nil || order.ID == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Any authoritative snapshot supersedes an optimistic overlay entry.
	delete(c.pending, order.ID)

	if prev, ok := c.historical[order.ID]; ok {
		if !order.Status.Terminal() {
			// History is final. A non-terminal snapshot for a resolved
			// order can only be a stale fetch completing late.
			c.log.Debug("cache: dropped non-terminal snapshot for historical order",
				zap.String("order_id", order.ID), zap.String("status", string(order.Status)))
			return false
		}
		if order.UpdatedAt.Before(prev.UpdatedAt) {
			return false
		}
		c.historical[order.ID] = order.Clone()
		return true
	}

	if prev, ok := c.active[order.ID]; ok && order.UpdatedAt.Before(prev.UpdatedAt) {
		c.log.Debug("cache: dropped stale snapshot",
			zap.String("order_id", order.ID), zap.Time("cached", prev.UpdatedAt), zap.Time("got", order.UpdatedAt))
		return false
	}

	if order.Status.Terminal() {
		delete(c.active, order.ID)
		c.historical[order.ID] = order.Clone()
	} else {
		c.active[order.ID] = order.Clone()
	}
	metrics.ActiveOrdersCached.Set(float64(len(c.active)))
	return true
}

// StagePending records an optimistic local snapshot that has not been
// confirmed by the ledger. It overlays reads of the same id until an
// authoritative snapshot arrives or DropPending is called.
func (c *OrderCache) StagePending(order *domain.Order) {
	if order == nil || order.ID == "" {
		return
	}
	c.mu.Lock()
	c.pending[order.ID] = order.Clone()
	c.mu.Unlock()
}

// DropPending discards an unconfirmed overlay entry, typically after the
// command behind it failed.
func (c *OrderCache) DropPending(orderID string) {
	c.mu.Lock()
	delete(c.pending, orderID)
	c.mu.Unlock()
}

// Get returns the current view of an order: the unconfirmed overlay first,
// then active, then historical.
func (c *OrderCache) Get(orderID string) (*domain.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if o, ok := c.pending[orderID]; ok {
		return o.Clone(), true
	}
	if o, ok := c.active[orderID]; ok {
		return o.Clone(), true
	}
	if o, ok := c.historical[orderID]; ok {
		return o.Clone(), true
	}
	return nil, false
}

// Active returns a copy of the active partition, with unconfirmed overlay
// entries applied on top.
func (c *OrderCache) Active() map[string]*domain.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*domain.Order, len(c.active))
	for id, o := range c.active {
		out[id] = o.Clone()
	}
	for id, o := range c.pending {
		if _, resolved := c.historical[id]; resolved {
			continue
		}
		out[id] = o.Clone()
	}
	return out
}

// Historical returns a copy of the historical partition.
func (c *OrderCache) Historical() map[string]*domain.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*domain.Order, len(c.historical))
	for id, o := range c.historical {
		out[id] = o.Clone()
	}
	return out
}

// InHistory reports whether the order has crossed the history gate.
func (c *OrderCache) InHistory(orderID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.historical[orderID]
	return ok
}

// Len returns the sizes of the active and historical partitions.
func (c *OrderCache) Len() (active, historical int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active), len(c.historical)
}
