package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// waitFor returns the next event named name, skipping others
func waitFor(t *testing.T, c *Client, name string) Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-c.Events:
			if ev.Name == name {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %q event received", name)
			return Event{}
		}
	}
}

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker(zaptest.NewLogger(t))
	defer b.Close()

	first, unsubFirst := b.Subscribe()
	second, unsubSecond := b.Subscribe()
	defer unsubSecond()
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, b.Len())

	assert.Equal(t, 2, b.Publish(Event{Name: EventStatus, Data: "paused"}))
	assert.Equal(t, "paused", waitFor(t, first, EventStatus).Data)
	assert.Equal(t, "paused", waitFor(t, second, EventStatus).Data)

	unsubFirst()
	assert.Equal(t, 1, b.Len())
	select {
	case <-first.Done:
	default:
		t.Fatal("unsubscribed client must be done")
	}
	unsubFirst()
}

// drained returns the names of the events already queued on c
func drained(c *Client) []string {
	var names []string
	for {
		select {
		case ev := <-c.Events:
			names = append(names, ev.Name)
		default:
			return names
		}
	}
}

func TestBroker_PublishWithoutStreams(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	assert.Zero(t, b.Publish(Event{Name: EventToast}))
}

func TestBroker_FullBufferDrops(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()
	c, unsub := b.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < clientBufferSize*2; i++ {
			b.Publish(Event{Name: EventToast, Data: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow stream")
	}
	assert.Len(t, c.Events, clientBufferSize)
	assert.Zero(t, b.Publish(Event{Name: EventToast}), "a full stream does not count as delivered")
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker(nil)
	c, _ := b.Subscribe()

	b.Close()
	b.Close()
	assert.Zero(t, b.Len())

	select {
	case <-c.Done:
	default:
		t.Fatal("close must end open streams")
	}

	late, unsub := b.Subscribe()
	require.NotNil(t, late)
	unsub()
	select {
	case <-late.Done:
	default:
		t.Fatal("a closed broker hands out finished streams")
	}
}
