package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEnqueuer struct {
	mu      sync.Mutex
	topics  []string
	entries []AuditLogEntry
}

func (r *recordingEnqueuer) EnqueueTask(_ context.Context, topic string, payload []byte) error {
	var entry AuditLogEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingEnqueuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func TestAuditManager_FlushesFullBatch(t *testing.T) {
	sink := &recordingEnqueuer{}
	m := NewAuditManager(sink, "fetch-audit", 1, 2, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	m.LogEntry(ctx, AuditLogEntry{Handler: "handleGetOrder", Method: "GET", Path: "/orders/o1", StatusCode: 200})
	m.LogEntry(ctx, AuditLogEntry{Handler: "handleGetOrder", Method: "GET", Path: "/orders/o2", StatusCode: 404})

	require.Eventually(t, func() bool { return sink.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"fetch-audit", "fetch-audit"}, sink.topics)
	assert.Equal(t, "/orders/o1", sink.entries[0].Path)
	assert.Equal(t, 404, sink.entries[1].StatusCode)
}

func TestAuditManager_FlushesOnTimeout(t *testing.T) {
	sink := &recordingEnqueuer{}
	m := NewAuditManager(sink, "fetch-audit", 1, 100, 50*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	m.LogEntry(ctx, AuditLogEntry{Handler: "handleListActive", Method: "GET", Path: "/actors/restaurant/r1/orders/active", StatusCode: 200})

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestAuditManager_ShutdownFlushesPartialBatch(t *testing.T) {
	sink := &recordingEnqueuer{}
	m := NewAuditManager(sink, "fetch-audit", 1, 100, time.Minute, nil)

	ctx := context.Background()
	m.Start(ctx)

	m.LogEntry(ctx, AuditLogEntry{Handler: "handleGetOrder", Method: "GET", Path: "/orders/o1", StatusCode: 200})

	// Give the aggregator a moment to pull the entry off the input queue.
	time.Sleep(100 * time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.Shutdown(shutdownCtx)

	assert.Equal(t, 1, sink.count())
}
