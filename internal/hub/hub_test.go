package hub

import (
	"context"
	"encoding/json"
	"testing"

	"qms/token-service/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name string
		sub  Subscription
		meta Subscription
		want bool
	}{
		{"no filter", Subscription{}, Subscription{BranchID: "b1"}, true},
		{"branch match", Subscription{BranchID: "b1"}, Subscription{BranchID: "b1"}, true},
		{"branch mismatch", Subscription{BranchID: "b1"}, Subscription{BranchID: "b2"}, false},
		{"desk match", Subscription{BranchID: "b1", DeskID: "d1"}, Subscription{BranchID: "b1", DeskID: "d1"}, true},
		{"desk mismatch", Subscription{BranchID: "b1", DeskID: "d1"}, Subscription{BranchID: "b1", DeskID: "d2"}, false},
		{"branch wide event reaches desk board", Subscription{BranchID: "b1", DeskID: "d1"}, Subscription{BranchID: "b1"}, true},
		{"service mismatch", Subscription{ServiceID: "s1"}, Subscription{BranchID: "b1", ServiceID: "s2"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, match(tc.sub, tc.meta))
		})
	}
}

func TestParseSubscribe(t *testing.T) {
	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","branch_id":"b1","desk_id":"d1"}`))
	require.True(t, ok)
	assert.Equal(t, "b1", msg.BranchID)
	assert.Equal(t, "d1", msg.DeskID)

	_, ok = ParseSubscribe([]byte(`{"action":"shout"}`))
	assert.False(t, ok)
	_, ok = ParseSubscribe([]byte(`not json`))
	assert.False(t, ok)
}

func TestPublishRoutesByBranch(t *testing.T) {
	h := New(nil)
	b1 := &Client{ID: "c1", Send: make(chan []byte, 1), Subscription: Subscription{BranchID: "b1"}}
	b2 := &Client{ID: "c2", Send: make(chan []byte, 1), Subscription: Subscription{BranchID: "b2"}}
	h.Register(b1)
	h.Register(b2)

	require.NoError(t, h.Publish(context.Background(), notify.Event{Type: notify.EventTokenCreated, BranchID: "b1"}))

	select {
	case payload := <-b1.Send:
		var event notify.Event
		require.NoError(t, json.Unmarshal(payload, &event))
		assert.Equal(t, notify.EventTokenCreated, event.Type)
	default:
		t.Fatal("expected message for branch b1")
	}
	assert.Len(t, b2.Send, 0)
}

func TestBroadcastDropsForSlowClient(t *testing.T) {
	h := New(nil)
	slow := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(slow)

	h.Broadcast([]byte("one"), Subscription{BranchID: "b1"})
	h.Broadcast([]byte("two"), Subscription{BranchID: "b1"})

	assert.Equal(t, "one", string(<-slow.Send))
	assert.Len(t, slow.Send, 0)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	h := New(nil)
	client := &Client{ID: "c1", Send: make(chan []byte, 1)}
	h.Register(client)
	h.Unregister(client)
	h.Unregister(client)
	assert.Equal(t, 0, h.Clients())
}
