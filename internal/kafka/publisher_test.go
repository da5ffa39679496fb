package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mealmesh/fulfillment/internal/db"
	mock_database "github.com/mealmesh/fulfillment/internal/db/mocks"
	"github.com/mealmesh/fulfillment/internal/repository"
)

type statusChange struct {
	status   repository.TaskStatus
	attempts int
	lastErr  *string
}

type fakeOutboxRepo struct {
	mu      sync.Mutex
	tasks   []*repository.OutboxTask
	changes map[uuid.UUID][]statusChange
}

func newFakeOutboxRepo(tasks ...*repository.OutboxTask) *fakeOutboxRepo {
	return &fakeOutboxRepo{tasks: tasks, changes: make(map[uuid.UUID][]statusChange)}
}

func (f *fakeOutboxRepo) CreateTx(_ context.Context, _ db.Tx, task *repository.OutboxTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeOutboxRepo) GetProcessableTasks(_ context.Context, _ db.DB, limit int) ([]*repository.OutboxTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tasks) > limit {
		return f.tasks[:limit], nil
	}
	return f.tasks, nil
}

func (f *fakeOutboxRepo) record(id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes[id] = append(f.changes[id], statusChange{status: status, attempts: attempts, lastErr: lastError})
}

func (f *fakeOutboxRepo) UpdateTaskStatusTx(_ context.Context, _ db.Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, _ *time.Time) error {
	f.record(id, status, attempts, lastError)
	return nil
}

func (f *fakeOutboxRepo) UpdateTaskStatus(_ context.Context, _ db.DB, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, _ *time.Time) error {
	f.record(id, status, attempts, lastError)
	return nil
}

type sentMessage struct {
	topic string
	key   string
	value string
}

type fakeProducer struct {
	mu      sync.Mutex
	sent    []sentMessage
	sendErr error
}

func (p *fakeProducer) SendMessage(_ context.Context, topic string, key, value []byte) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sentMessage{topic: topic, key: string(key), value: string(value)})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func TestPublisher_ProcessBatch(t *testing.T) {
	ctx := context.Background()
	cfg := PublisherConfig{PollInterval: time.Second, BatchSize: 10, MaxAttempts: 3}

	t.Run("sends tasks and marks them done", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		mockTx := mock_database.NewMockTx(ctrl)
		mockDB.EXPECT().BeginTx(ctx).Return(mockTx, nil)
		mockTx.EXPECT().Commit(ctx).Return(nil)
		mockTx.EXPECT().Rollback(gomock.Any()).Return(nil).AnyTimes()

		task1 := &repository.OutboxTask{ID: uuid.New(), Topic: "order-transitions", Payload: []byte(`{"order_id":"o1"}`)}
		task2 := &repository.OutboxTask{ID: uuid.New(), Topic: "fetch-audit", Payload: []byte(`{"path":"/orders/o1"}`)}
		repo := newFakeOutboxRepo(task1, task2)
		producer := &fakeProducer{}

		p := NewPublisher(mockDB, repo, producer, cfg)
		require.NoError(t, p.processBatch(ctx))

		require.Len(t, producer.sent, 2)
		assert.Equal(t, "order-transitions", producer.sent[0].topic)
		assert.Equal(t, task1.ID.String(), producer.sent[0].key)
		assert.Equal(t, `{"order_id":"o1"}`, producer.sent[0].value)

		for _, task := range []*repository.OutboxTask{task1, task2} {
			changes := repo.changes[task.ID]
			require.Len(t, changes, 2)
			assert.Equal(t, repository.TaskStatusProcessing, changes[0].status)
			assert.Equal(t, repository.TaskStatusDone, changes[1].status)
		}
	})

	t.Run("send failure marks task failed with attempt count", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		mockTx := mock_database.NewMockTx(ctrl)
		mockDB.EXPECT().BeginTx(ctx).Return(mockTx, nil)
		mockTx.EXPECT().Commit(ctx).Return(nil)
		mockTx.EXPECT().Rollback(gomock.Any()).Return(nil).AnyTimes()

		task := &repository.OutboxTask{ID: uuid.New(), Topic: "order-transitions", Payload: []byte(`{}`), Attempts: 1}
		repo := newFakeOutboxRepo(task)
		producer := &fakeProducer{sendErr: errors.New("broker unavailable")}

		p := NewPublisher(mockDB, repo, producer, cfg)
		require.NoError(t, p.processBatch(ctx))

		changes := repo.changes[task.ID]
		require.Len(t, changes, 2)
		assert.Equal(t, repository.TaskStatusProcessing, changes[0].status)
		assert.Equal(t, repository.TaskStatusFailed, changes[1].status)
		assert.Equal(t, 2, changes[1].attempts)
		require.NotNil(t, changes[1].lastErr)
		assert.Equal(t, "broker unavailable", *changes[1].lastErr)
	})

	t.Run("empty outbox commits and sends nothing", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		mockTx := mock_database.NewMockTx(ctrl)
		mockDB.EXPECT().BeginTx(ctx).Return(mockTx, nil)
		mockTx.EXPECT().Commit(ctx).Return(nil)
		mockTx.EXPECT().Rollback(gomock.Any()).Return(nil).AnyTimes()

		producer := &fakeProducer{}
		p := NewPublisher(mockDB, newFakeOutboxRepo(), producer, cfg)

		require.NoError(t, p.processBatch(ctx))
		assert.Empty(t, producer.sent)
	})
}
