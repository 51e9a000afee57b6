package repository

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestBoundedCtx_SetsDeadline(t *testing.T) {
	ctx, cancel := boundedCtx(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(storeOpTimeout), deadline, time.Second)
}

func TestWithRetry_RetriesSerializationFailure(t *testing.T) {
	r := &PostgresRepository{}

	calls := 0
	err := r.withRetry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestWithRetry_RetriesTransportErrors(t *testing.T) {
	r := &PostgresRepository{}

	calls := 0
	err := r.withRetry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &net.OpError{Op: "read", Err: errors.New("connection reset by peer")}
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestWithRetry_DoesNotRetryPolicyErrors(t *testing.T) {
	r := &PostgresRepository{}

	calls := 0
	err := r.withRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return ErrNoCopyAvailable
	})

	require.ErrorIs(t, err, ErrNoCopyAvailable)
	require.Equal(t, 1, calls)
}

func TestWithRetry_DoesNotRetryConstraintViolations(t *testing.T) {
	r := &PostgresRepository{}

	calls := 0
	err := r.withRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return &pgconn.PgError{Code: pgerrcode.UniqueViolation}
	})

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, 1, calls)
}
