package cache

import (
	"context"
	"testing"
	"time"

	"github.com/bordereau/console/internal/domain/bpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryToastLedger_DueAndRecord(t *testing.T) {
	ledger := NewInMemoryToastLedger(time.Hour)
	defer ledger.Close()

	ctx := context.Background()
	scope := bpc.ToastScope("s1", 7)

	t.Run("nothing recorded is due", func(t *testing.T) {
		due, err := ledger.Due(ctx, scope, 101)
		require.NoError(t, err)
		assert.True(t, due)
	})

	t.Run("checking does not record", func(t *testing.T) {
		due, err := ledger.Due(ctx, scope, 101)
		require.NoError(t, err)
		assert.True(t, due)
		assert.Equal(t, 0, ledger.Size())
	})

	t.Run("recorded entity is not due again", func(t *testing.T) {
		require.NoError(t, ledger.Record(ctx, scope, 101))
		due, err := ledger.Due(ctx, scope, 101)
		require.NoError(t, err)
		assert.False(t, due)
	})

	t.Run("different entity is due", func(t *testing.T) {
		due, err := ledger.Due(ctx, scope, 102)
		require.NoError(t, err)
		assert.True(t, due)
	})

	t.Run("only the last toasted entity is remembered", func(t *testing.T) {
		require.NoError(t, ledger.Record(ctx, scope, 102))
		due, err := ledger.Due(ctx, scope, 101)
		require.NoError(t, err)
		assert.True(t, due)
	})

	t.Run("scopes are independent", func(t *testing.T) {
		due, err := ledger.Due(ctx, bpc.ToastScope("s2", 7), 102)
		require.NoError(t, err)
		assert.True(t, due)
	})
}

func TestInMemoryToastLedger_Expiry(t *testing.T) {
	ledger := NewInMemoryToastLedger(10 * time.Millisecond)
	defer ledger.Close()

	ctx := context.Background()
	require.NoError(t, ledger.Record(ctx, "s:1", 5))

	time.Sleep(20 * time.Millisecond)

	due, err := ledger.Due(ctx, "s:1", 5)
	require.NoError(t, err)
	assert.True(t, due, "expired memory should allow a new toast")
}

func TestInMemoryToastLedger_Forget(t *testing.T) {
	ledger := NewInMemoryToastLedger(0)
	defer ledger.Close()

	ctx := context.Background()
	require.NoError(t, ledger.Record(ctx, "a:1", 5))
	require.NoError(t, ledger.Record(ctx, "b:1", 5))
	assert.Equal(t, 2, ledger.Size())

	require.NoError(t, ledger.Forget(ctx, "a:1"))
	assert.Equal(t, 1, ledger.Size())

	due, err := ledger.Due(ctx, "a:1", 5)
	require.NoError(t, err)
	assert.True(t, due)

	due, err = ledger.Due(ctx, "b:1", 5)
	require.NoError(t, err)
	assert.False(t, due, "other scopes keep their memory")
}

func TestInMemoryToastLedger_CloseIsIdempotent(t *testing.T) {
	ledger := NewInMemoryToastLedger(0)
	assert.NoError(t, ledger.Close())
	assert.NoError(t, ledger.Close())
}
