package channel

import (
	"context"
	"fmt"
	"time"

	stan "github.com/nats-io/stan.go"
	"go.uber.org/zap"
)

// StanBus is a Bus over NATS Streaming. Events missed while disconnected
// are not replayed to clients; instead the connection-lost handler fires
// OnReconnect (after a successful reconnect) so the owner can run a full
// resynchronization fetch.
type StanBus struct {
	ClusterID string
	ClientID  string
	URL       string
	Durable   string

	// OnConnectionLost is called when the streaming connection drops for
	// good. Typically wired to a reconnect-and-resync routine.
	OnConnectionLost func(err error)

	Logger *zap.Logger

	conn stan.Conn
}

// Connect dials the streaming server. Must be called before Publish or
// Subscribe.
func (b *StanBus) Connect() error {
	clientID := b.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("fulfillment-%d", time.Now().UnixNano())
	}
	log := b.Logger
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := stan.Connect(b.ClusterID, clientID,
		stan.NatsURL(b.URL),
		stan.SetConnectionLostHandler(func(_ stan.Conn, err error) {
			log.Warn("channel: streaming connection lost", zap.Error(err))
			if b.OnConnectionLost != nil {
				b.OnConnectionLost(err)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to streaming cluster %s: %w", b.ClusterID, err)
	}
	b.conn = conn
	return nil
}

func (b *StanBus) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

func (b *StanBus) Publish(_ context.Context, subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

func (b *StanBus) Subscribe(ctx context.Context, subject string, h Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(m *stan.Msg) {
		hCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h(hCtx, m.Data)
		if err := m.Ack(); err != nil && b.Logger != nil {
			b.Logger.Warn("channel: ack failed", zap.String("subject", subject), zap.Error(err))
		}
	}, stan.DurableName(b.Durable), stan.SetManualAckMode(), stan.AckWait(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return stanSubscription{sub: sub}, nil
}

type stanSubscription struct {
	sub stan.Subscription
}

func (s stanSubscription) Unsubscribe() error { return s.sub.Unsubscribe() }

var _ Bus = (*StanBus)(nil)
