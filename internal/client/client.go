package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mealmesh/fulfillment/internal/cache"
	"github.com/mealmesh/fulfillment/internal/channel"
	"github.com/mealmesh/fulfillment/internal/domain"
	"github.com/mealmesh/fulfillment/internal/events"
)

// ErrCommandInFlight is returned when a command for an order is issued
// while a previous command for the same order is still unresolved. The
// guard exists to stop accidental double-submits from the same actor; it
// is local bookkeeping, not a protocol invariant.
var ErrCommandInFlight = fmt.Errorf("a command for this order is already in flight")

// ErrorHandler receives command failures pushed back by the ledger. The
// ledger scopes errors to the issuing actor, so everything arriving here
// belongs to this client.
type ErrorHandler func(event, orderID, message string)

// Client is the actor-side protocol endpoint shared by all roles: it owns
// the room subscription, the local order cache, command issuance with the
// per-order in-flight guard, and resynchronization over the fetch API.
type Client struct {
	role    domain.ActorRole
	actorID string

	bus     channel.Bus
	fetcher Fetcher
	cache   *cache.OrderCache
	log     *zap.Logger

	mu       sync.Mutex
	inFlight map[string]string
	sub      channel.Subscription

	onError ErrorHandler

	// roleHandler receives every decoded envelope after the shared
	// processing, so role clients can maintain their own derived state.
	roleHandler func(ctx context.Context, ev events.Envelope)
}

func newClient(role domain.ActorRole, actorID string, bus channel.Bus, fetcher Fetcher, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("actor", string(role)+":"+actorID))
	return &Client{
		role:     role,
		actorID:  actorID,
		bus:      bus,
		fetcher:  fetcher,
		cache:    cache.NewOrderCache(log),
		log:      log,
		inFlight: make(map[string]string),
	}
}

func (c *Client) Role() domain.ActorRole { return c.role }
func (c *Client) ActorID() string        { return c.actorID }

// Cache exposes the local order cache for read access.
func (c *Client) Cache() *cache.OrderCache { return c.cache }

// OnError registers the handler for ledger-side command failures.
func (c *Client) OnError(h ErrorHandler) { c.onError = h }

// Start subscribes the actor's room and warms the cache with a full
// resync. The subscription is the only push path; events published before
// Start returns may be missed, which resync compensates for.
func (c *Client) Start(ctx context.Context) error {
	sub, err := c.bus.Subscribe(ctx, events.RoomSubject(c.role, c.actorID), c.handleEnvelope)
	if err != nil {
		return fmt.Errorf("subscribe room: %w", err)
	}
	c.sub = sub

	if err := c.Resync(ctx); err != nil {
		_ = sub.Unsubscribe()
		c.sub = nil
		return err
	}
	return nil
}

// Close tears down the room subscription. The cache keeps its contents so
// a restarted client can diff against it after the next resync.
func (c *Client) Close() error {
	if c.sub == nil {
		return nil
	}
	err := c.sub.Unsubscribe()
	c.sub = nil
	return err
}

// Resync fetches the actor's active and historical sets concurrently and
// replays them through the cache. Apply's recency guard makes this safe
// to run at any time, including while push events are arriving.
func (c *Client) Resync(ctx context.Context) error {
	var active, historical []*domain.Order

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		active, err = c.fetcher.ActiveOrders(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		historical, err = c.fetcher.HistoricalOrders(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("resync fetch: %w", err)
	}

	for _, o := range historical {
		c.cache.Apply(o)
	}
	for _, o := range active {
		c.cache.Apply(o)
	}
	c.log.Info("resync completed",
		zap.Int("active", len(active)), zap.Int("historical", len(historical)))
	return nil
}

// RefreshOrder fetches a single authoritative snapshot and applies it.
func (c *Client) RefreshOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := c.fetcher.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	c.cache.Apply(o)
	return o, nil
}

// Order returns the current local view of an order.
func (c *Client) Order(orderID string) (*domain.Order, bool) {
	return c.cache.Get(orderID)
}

// ActiveOrders returns the active partition of the local cache.
func (c *Client) ActiveOrders() map[string]*domain.Order {
	return c.cache.Active()
}

// HistoricalOrders returns the historical partition of the local cache.
func (c *Client) HistoricalOrders() map[string]*domain.Order {
	return c.cache.Historical()
}

// InFlight reports whether a command for the order is still unresolved.
func (c *Client) InFlight(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[orderID]
	return ok
}

// issue publishes a mutating command on the command subject. At most one
// command per order may be in flight at a time; the slot is freed when
// any event referencing the order arrives in the actor's room. An
// optimistic snapshot, when given, is staged before publishing so the
// eventual authoritative snapshot always reconciles it away.
func (c *Client) issue(ctx context.Context, cmd events.Command, optimistic *domain.Order) error {
	if cmd.OrderID != "" {
		c.mu.Lock()
		if prev, ok := c.inFlight[cmd.OrderID]; ok {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrCommandInFlight, prev)
		}
		c.inFlight[cmd.OrderID] = cmd.Name
		c.mu.Unlock()
	}

	if optimistic != nil {
		c.cache.StagePending(optimistic)
	}

	if err := c.publish(ctx, cmd); err != nil {
		if optimistic != nil {
			c.cache.DropPending(cmd.OrderID)
		}
		c.clearInFlight(cmd.OrderID)
		return err
	}
	return nil
}

// publish sends a command without touching the in-flight guard. Used
// directly for read-only commands such as agent search.
func (c *Client) publish(ctx context.Context, cmd events.Command) error {
	cmd.ActorRole = c.role
	cmd.ActorID = c.actorID
	cmd.IssuedAt = time.Now().UTC()

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	if err := c.bus.Publish(ctx, events.CommandSubject, data); err != nil {
		return fmt.Errorf("publish command: %w", err)
	}
	return nil
}

func (c *Client) clearInFlight(orderID string) {
	if orderID == "" {
		return
	}
	c.mu.Lock()
	delete(c.inFlight, orderID)
	c.mu.Unlock()
}

func (c *Client) handleEnvelope(ctx context.Context, data []byte) {
	var ev events.Envelope
	if err := json.Unmarshal(data, &ev); err != nil {
		c.log.Warn("undecodable event dropped", zap.Error(err))
		return
	}

	c.clearInFlight(ev.OrderID)

	if ev.Error != "" {
		// A failed command leaves the authoritative state untouched, so
		// any optimistic overlay for the order must be rolled back.
		if ev.OrderID != "" {
			c.cache.DropPending(ev.OrderID)
		}
		c.log.Warn("command rejected by ledger",
			zap.String("event", ev.Event), zap.String("order_id", ev.OrderID), zap.String("error", ev.Error))
		if c.onError != nil {
			c.onError(ev.Event, ev.OrderID, ev.Error)
		}
		if c.roleHandler != nil {
			c.roleHandler(ctx, ev)
		}
		return
	}

	if ev.Order != nil {
		c.cache.Apply(ev.Order)
	}

	if c.roleHandler != nil {
		c.roleHandler(ctx, ev)
	}
}
