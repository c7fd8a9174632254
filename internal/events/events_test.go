package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBrokerPublishDeliversToSubscribers(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(Event{Kind: "publish", Repo: "releases", Status: "created"})

	select {
	case ev := <-ch:
		require.Equal(t, "publish", ev.Kind)
		require.Equal(t, "releases", ev.Repo)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for i := 0; i < 100; i++ {
		b.Publish(Event{Kind: "reload", Status: "success"})
	}
	_ = ch
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	_, ok := <-ch
	require.False(t, ok)
}
