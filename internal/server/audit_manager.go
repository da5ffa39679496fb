package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskEnqueuer is where flushed audit batches go: in the ledger binary it
// is the storage outbox feeding the fetch-audit kafka topic.
type TaskEnqueuer interface {
	EnqueueTask(ctx context.Context, topic string, payload []byte) error
}

// AuditManager batches fetch-API audit entries and hands them off to the
// enqueuer from a small worker pool. Entries are flushed when a batch
// fills or the flush timeout fires, whichever comes first.
type AuditManager struct {
	workerCount int
	batchSize   int
	timeout     time.Duration
	topic       string

	sink TaskEnqueuer
	log  *zap.Logger

	inputChan  chan AuditLogEntry
	batchChan  chan []AuditLogEntry
	shutdownCh chan struct{}
	once       sync.Once

	wg sync.WaitGroup
}

func NewAuditManager(sink TaskEnqueuer, topic string, workerCount, batchSize int, timeout time.Duration, log *zap.Logger) *AuditManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditManager{
		workerCount: workerCount,
		batchSize:   batchSize,
		timeout:     timeout,
		topic:       topic,
		sink:        sink,
		log:         log,
		inputChan:   make(chan AuditLogEntry, workerCount*batchSize*2),
		batchChan:   make(chan []AuditLogEntry, workerCount*2),
		shutdownCh:  make(chan struct{}),
	}
}

func (m *AuditManager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.runAggregator(ctx)

	for i := 0; i < m.workerCount; i++ {
		m.wg.Add(1)
		go m.runWorker(ctx, i)
	}

	go m.monitorShutdown(ctx)
}

func (m *AuditManager) Shutdown(ctx context.Context) {
	m.once.Do(func() {
		close(m.shutdownCh)

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			m.log.Info("audit manager shutdown completed")
		case <-ctx.Done():
			m.log.Warn("audit manager shutdown interrupted")
		}
	})
}

func (m *AuditManager) monitorShutdown(ctx context.Context) {
	<-ctx.Done()
	m.Shutdown(context.Background())
}

// LogEntry submits one entry. On a full queue during shutdown the entry is
// logged locally so it is never silently lost.
func (m *AuditManager) LogEntry(ctx context.Context, entry AuditLogEntry) {
	select {
	case m.inputChan <- entry:
	case <-ctx.Done():
		m.emergencyLog(entry)
	case <-m.shutdownCh:
		m.emergencyLog(entry)
	}
}

func (m *AuditManager) runAggregator(ctx context.Context) {
	defer m.wg.Done()

	var (
		batch    []AuditLogEntry
		timer    *time.Timer
		timeoutC <-chan time.Time
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
		if len(batch) > 0 {
			m.dispatchBatch(batch)
		}
		close(m.batchChan)
	}()

	for {
		select {
		case entry := <-m.inputChan:
			batch = append(batch, entry)
			if len(batch) >= m.batchSize {
				m.dispatchBatch(batch)
				batch = nil
				if timer != nil {
					timer.Stop()
					timeoutC = nil
				}
			} else if timer == nil || timeoutC == nil {
				timer = time.NewTimer(m.timeout)
				timeoutC = timer.C
			}
		case <-timeoutC:
			if len(batch) > 0 {
				m.dispatchBatch(batch)
				batch = nil
			}
			timeoutC = nil
		case <-m.shutdownCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *AuditManager) dispatchBatch(batch []AuditLogEntry) {
	select {
	case m.batchChan <- batch:
	default:
		// Workers are saturated; fall back to local logging rather than
		// blocking the aggregator.
		for _, entry := range batch {
			m.emergencyLog(entry)
		}
	}
}

func (m *AuditManager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()

	for batch := range m.batchChan {
		for _, entry := range batch {
			payload, err := json.Marshal(entry)
			if err != nil {
				m.log.Error("audit worker: failed to encode entry", zap.Int("worker", id), zap.Error(err))
				continue
			}
			if err := m.sink.EnqueueTask(ctx, m.topic, payload); err != nil {
				m.log.Error("audit worker: failed to enqueue entry", zap.Int("worker", id), zap.Error(err))
				m.emergencyLog(entry)
			}
		}
	}
}

func (m *AuditManager) emergencyLog(entry AuditLogEntry) {
	m.log.Warn("audit entry not enqueued",
		zap.String("handler", entry.Handler),
		zap.String("method", entry.Method),
		zap.String("path", entry.Path),
		zap.Int("status_code", entry.StatusCode))
}
