package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cadforge/cadopt/api/schemas"
)

func TestNewPostgres(t *testing.T) {
	t.Run("returns transient error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgres(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.True(t, schemas.IsTransient(err), "ping failure should classify as transient")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresGet(t *testing.T) {
	newStore := func(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
		t.Helper()
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		t.Cleanup(mockPool.Close)

		mockPool.ExpectPing()
		store, err := NewPostgres(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)
		return store, mockPool
	}

	t.Run("live entry round-trips", func(t *testing.T) {
		store, mockPool := newStore(t)

		raw, err := json.Marshal(testResult(0.9))
		require.NoError(t, err)

		rows := pgxmock.NewRows([]string{"result", "created_at", "ttl_seconds"}).
			AddRow(raw, time.Now().UTC(), int64(3600))
		mockPool.ExpectQuery("SELECT result, created_at, ttl_seconds").
			WithArgs("fp-live").
			WillReturnRows(rows)

		got, ok, err := store.Get(context.Background(), "fp-live")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "yosys", got.Tool)
		assert.Equal(t, schemas.StrategyBayesian, got.StrategyUsed)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("expired row reads as absent", func(t *testing.T) {
		store, mockPool := newStore(t)

		raw, err := json.Marshal(testResult(0.9))
		require.NoError(t, err)

		rows := pgxmock.NewRows([]string{"result", "created_at", "ttl_seconds"}).
			AddRow(raw, time.Now().UTC().Add(-2*time.Hour), int64(3600))
		mockPool.ExpectQuery("SELECT result, created_at, ttl_seconds").
			WithArgs("fp-stale").
			WillReturnRows(rows)

		_, ok, err := store.Get(context.Background(), "fp-stale")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("connection failure is transient", func(t *testing.T) {
		store, mockPool := newStore(t)

		mockPool.ExpectQuery("SELECT result, created_at, ttl_seconds").
			WithArgs("fp-err").
			WillReturnError(errors.New("connection reset"))

		_, _, err := store.Get(context.Background(), "fp-err")
		require.Error(t, err)
		assert.True(t, schemas.IsTransient(err))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresPut(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	store, err := NewPostgres(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	mockPool.ExpectExec("INSERT INTO optimization_cache").
		WithArgs("fp-put", pgxmock.AnyArg(), pgxmock.AnyArg(), int64(1800)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Put(context.Background(), "fp-put", testResult(0.7), 30*time.Minute)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
