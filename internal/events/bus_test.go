package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case evt := <-sub.Events():
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	a := bus.Subscribe(ctx)
	b := bus.Subscribe(ctx)
	defer a.Close()
	defer b.Close()

	bus.Publish(New(TypePostCreated, map[string]string{"id": "p1"}))

	assert.Equal(t, TypePostCreated, receive(t, a).Type)
	assert.Equal(t, TypePostCreated, receive(t, b).Type)
}

func TestBus_TypeFilter(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	sub := bus.Subscribe(ctx, TypeAutosaveStatus)
	defer sub.Close()

	bus.Publish(New(TypePostDeleted, nil))
	bus.Publish(New(TypeAutosaveStatus, map[string]string{"state": "saving"}))

	evt := receive(t, sub)
	assert.Equal(t, TypeAutosaveStatus, evt.Type)

	select {
	case extra := <-sub.Events():
		t.Fatalf("unexpected extra event %q", extra.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_ClosedSubscriberDropsFromBus(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	sub := bus.Subscribe(ctx)
	sub.Close()

	// Publishing after close must not panic or block.
	bus.Publish(New(TypePostUpdated, nil))

	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestBus_ContextCancelTearsDownSubscription(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	sub := bus.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-sub.Events():
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
