package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishDeliversToAllSubscribers(t *testing.T) {
	h := New()
	sub1 := h.Subscribe("")
	sub2 := h.Subscribe("")
	defer h.Unsubscribe(sub1)
	defer h.Unsubscribe(sub2)

	h.Publish(ContentDeltaEvent{Update: []byte("u1")}, "")

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			cd, ok := ev.(ContentDeltaEvent)
			require.True(t, ok, "unexpected event type %#v", ev)
			assert.Equal(t, "u1", string(cd.Update))
		default:
			t.Fatal("expected event to be delivered")
		}
	}
}

func TestHubPublishSkipsOnlyOriginatingSubscriber(t *testing.T) {
	h := New()
	origin := h.Subscribe("conn-1")
	other := h.Subscribe("conn-2")
	defer h.Unsubscribe(origin)
	defer h.Unsubscribe(other)

	h.Publish(ContentDeltaEvent{Update: []byte("u1"), Origin: "conn-1"}, "conn-1")

	select {
	case ev := <-origin:
		t.Fatalf("expected no delivery to the originating connector, got %#v", ev)
	default:
	}

	select {
	case ev := <-other:
		cd, ok := ev.(ContentDeltaEvent)
		require.True(t, ok, "unexpected event type %#v", ev)
		assert.Equal(t, "u1", string(cd.Update))
	default:
		t.Fatal("expected the non-originating subscriber to still receive the event")
	}
}

func TestHubPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	h := New()
	sub := h.Subscribe("")
	defer h.Unsubscribe(sub)

	for i := 0; i < subscriberBuffer+5; i++ {
		h.Publish(ContentDeltaEvent{Update: []byte("u")}, "")
	}
	// Must not deadlock or block; draining is not required by the test.
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := New()
	sub := h.Subscribe("")
	h.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open, "expected channel to be closed after Unsubscribe")
}

func TestHubSubscriberCount(t *testing.T) {
	h := New()
	assert.Equal(t, 0, h.SubscriberCount())

	sub := h.Subscribe("")
	assert.Equal(t, 1, h.SubscriberCount())

	h.Unsubscribe(sub)
	assert.Equal(t, 0, h.SubscriberCount())
}
