package postgresql

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	mock_database "github.com/mealmesh/fulfillment/internal/db/mocks"
	"github.com/mealmesh/fulfillment/internal/repository"
)

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = gomock.Any()
	}
	return args
}

func TestOrderRepo_GetByID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDB := mock_database.NewMockDB(ctrl)
	repo := NewOrderRepo(mockDB)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		mockDB.EXPECT().
			Get(ctx, gomock.Any(), "SELECT * FROM orders WHERE id = $1", "order-1").
			DoAndReturn(func(_ context.Context, dest any, _ string, _ ...any) error {
				order := dest.(*repository.Order)
				order.ID = "order-1"
				order.Status = "preparing"
				order.CustomerID = "cust-1"
				order.RestaurantID = "rest-1"
				return nil
			})

		order, err := repo.GetByID(ctx, "order-1")
		require.NoError(t, err)

		assert.Equal(t, "order-1", order.ID)
		assert.Equal(t, "preparing", order.Status)
	})

	t.Run("not found maps to sentinel", func(t *testing.T) {
		mockDB.EXPECT().
			Get(ctx, gomock.Any(), gomock.Any(), "missing").
			Return(pgx.ErrNoRows)

		_, err := repo.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, repository.ErrObjectNotFound)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		dbErr := errors.New("connection reset")
		mockDB.EXPECT().
			Get(ctx, gomock.Any(), gomock.Any(), "order-1").
			Return(dbErr)

		_, err := repo.GetByID(ctx, "order-1")
		assert.ErrorIs(t, err, dbErr)
	})
}

func TestOrderRepo_Create(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDB := mock_database.NewMockDB(ctrl)
	repo := NewOrderRepo(mockDB)
	ctx := context.Background()

	order := &repository.Order{
		ID:           "order-1",
		Status:       "pending",
		CustomerID:   "cust-1",
		RestaurantID: "rest-1",
		TotalAmount:  2500,
		CreatedAt:    time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}

	mockDB.EXPECT().
		Exec(ctx, gomock.Any(), anyArgs(18)...).
		DoAndReturn(func(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
			assert.Contains(t, query, "INSERT INTO orders")
			assert.Equal(t, "order-1", args[0])
			assert.Equal(t, "pending", args[1])
			return pgconn.CommandTag{}, nil
		})

	require.NoError(t, repo.Create(ctx, order))
}

func TestOrderRepo_GetByIDTx_LocksRow(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDB := mock_database.NewMockDB(ctrl)
	mockTx := mock_database.NewMockTx(ctrl)
	repo := NewOrderRepo(mockDB)
	ctx := context.Background()

	mockTx.EXPECT().
		Get(ctx, gomock.Any(), gomock.Any(), "order-1").
		DoAndReturn(func(_ context.Context, dest any, query string, _ ...any) error {
			assert.Contains(t, query, "FOR UPDATE")
			dest.(*repository.Order).ID = "order-1"
			return nil
		})

	order, err := repo.GetByIDTx(ctx, mockTx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", order.ID)
}

func TestOrderRepo_ListByActor(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		role       string
		historical bool
		wantClause string
		wantStatus string
	}{
		{"customer active", "customer", false, "customer_id = $1", "NOT (status = ANY($2))"},
		{"restaurant historical", "restaurant", true, "restaurant_id = $1", "status = ANY($2)"},
		{"agent includes open requests", "agent", false, "agent_requests", "NOT (status = ANY($2))"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockDB := mock_database.NewMockDB(ctrl)
			repo := NewOrderRepo(mockDB)

			mockDB.EXPECT().
				Select(ctx, gomock.Any(), gomock.Any(), "actor-1", terminalStatuses).
				DoAndReturn(func(_ context.Context, dest any, query string, _ ...any) error {
					assert.Contains(t, query, tt.wantClause)
					assert.Contains(t, query, tt.wantStatus)
					assert.True(t, strings.HasSuffix(query, "ORDER BY created_at DESC"))
					orders := dest.(*[]*repository.Order)
					*orders = append(*orders, &repository.Order{ID: "order-1"})
					return nil
				})

			orders, err := repo.ListByActor(ctx, tt.role, "actor-1", tt.historical)
			require.NoError(t, err)
			require.Len(t, orders, 1)
		})
	}

	t.Run("unknown role", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := NewOrderRepo(mock_database.NewMockDB(ctrl))

		_, err := repo.ListByActor(ctx, "courier", "actor-1", false)
		assert.ErrorIs(t, err, repository.ErrObjectNotFound)
	})
}
