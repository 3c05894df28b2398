package push

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryHub_PublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	a := hub.Connect()
	b := hub.Connect()
	defer a.Close()
	defer b.Close()

	var gotA, gotB []string
	require.NoError(t, a.Subscribe(ctx, "bpc.7", "BpcNotification", func(data []byte) {
		gotA = append(gotA, string(data))
	}))
	require.NoError(t, b.Subscribe(ctx, "bpc.7", "OtherEvent", func(data []byte) {
		gotB = append(gotB, string(data))
	}))
	assert.Equal(t, 2, hub.Subscribers("bpc.7"))

	n, err := hub.Publish(ctx, "bpc.7", "BpcNotification", []byte(`{"payload":{}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{`{"payload":{}}`}, gotA)
	assert.Empty(t, gotB)

	n, err = hub.Publish(ctx, "bpc.8", "BpcNotification", []byte(`{}`))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryTransport_Leave(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	tr := hub.Connect()

	calls := 0
	require.NoError(t, tr.Subscribe(ctx, "bpc.1", "e", func([]byte) { calls++ }))
	require.NoError(t, tr.Leave("bpc.1"))
	assert.ErrorIs(t, tr.Leave("bpc.1"), ErrNotSubscribed)
	assert.Zero(t, hub.Subscribers("bpc.1"))

	_, err := hub.Publish(ctx, "bpc.1", "e", []byte(`{}`))
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestMemoryTransport_Close(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	tr := hub.Connect()

	require.NoError(t, tr.Subscribe(ctx, "bpc.1", "e", func([]byte) {}))
	require.NoError(t, tr.Subscribe(ctx, "bpc.2", "e", func([]byte) {}))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	assert.Zero(t, hub.Subscribers("bpc.1"))
	assert.Zero(t, hub.Subscribers("bpc.2"))
	assert.ErrorIs(t, tr.Subscribe(ctx, "bpc.1", "e", func([]byte) {}), ErrClosed)
	assert.ErrorIs(t, tr.Leave("bpc.1"), ErrClosed)
}

func TestMemoryTransport_InvalidArguments(t *testing.T) {
	tr := NewMemoryHub().Connect()
	ctx := context.Background()

	assert.ErrorIs(t, tr.Subscribe(ctx, "", "e", func([]byte) {}), ErrInvalidChannel)
	assert.ErrorIs(t, tr.Subscribe(ctx, "c", "", func([]byte) {}), ErrInvalidChannel)
	assert.ErrorIs(t, tr.Subscribe(ctx, "c", "e", nil), ErrInvalidChannel)
}

func TestMemoryTransport_HandlerPanicIsContained(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	tr := hub.Connect()

	calls := 0
	require.NoError(t, tr.Subscribe(ctx, "bpc.1", "e", func([]byte) {
		calls++
		panic("boom")
	}))

	assert.NotPanics(t, func() {
		_, _ = hub.Publish(ctx, "bpc.1", "e", []byte(`1`))
		_, _ = hub.Publish(ctx, "bpc.1", "e", []byte(`2`))
	})
	assert.Equal(t, 2, calls)
}

func TestMemoryTransport_SerializesDelivery(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	tr := hub.Connect()

	inFlight, maxInFlight := 0, 0
	var mu sync.Mutex
	require.NoError(t, tr.Subscribe(ctx, "bpc.1", "e", func([]byte) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		mu.Lock()
		inFlight--
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = hub.Publish(ctx, "bpc.1", "e", []byte(`{}`))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInFlight)
}

func TestUnwrapData(t *testing.T) {
	assert.Equal(t, `{"a":1}`, string(unwrapData([]byte(`"{\"a\":1}"`))))
	assert.Equal(t, `{"a":1}`, string(unwrapData([]byte(`{"a":1}`))))
	assert.Empty(t, unwrapData(nil))
}
