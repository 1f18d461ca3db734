package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupBridge(t *testing.T, local *Broadcaster) (*Bridge, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	bridge, err := NewBridge("redis://"+s.Addr(), "redline:events", local)
	if err != nil {
		t.Fatalf("NewBridge failed: %v", err)
	}
	t.Cleanup(func() { bridge.Close() })
	return bridge, s
}

func TestBridgePing(t *testing.T) {
	bridge, _ := setupBridge(t, NewBroadcaster())
	if err := bridge.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestBridgePublishesEnvelope(t *testing.T) {
	bridge, s := setupBridge(t, NewBroadcaster())

	listener := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer listener.Close()

	ctx := context.Background()
	pubsub := listener.Subscribe(ctx, "redline:events")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	err := bridge.Publish(ctx, Event{
		Type: TypeOverridden,
		Lock: &LockChange{DocumentID: "default-doc", ActorID: "usr_warren", PreviousHolderID: "usr_sam"},
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-pubsub.Channel():
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Origin == "" || env.Event.Type != TypeOverridden {
			t.Fatalf("envelope = %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message published")
	}
}

func TestBridgeSkipsOwnEvents(t *testing.T) {
	local := NewBroadcaster()
	bridge, _ := setupBridge(t, local)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	_, ch, unsub := local.Subscribe("")
	defer unsub()
	recvEvent(t, ch) // ack

	if err := bridge.Publish(ctx, Event{Type: TypeSaved}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case e := <-ch:
		t.Fatalf("own event must not be re-emitted locally, got %s", e.Type)
	case <-time.After(200 * time.Millisecond):
	}
}
