package events

import (
	"testing"
	"time"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribeReceivesAckFirst(t *testing.T) {
	b := NewBroadcaster()
	id, ch, cancel := b.Subscribe("web")
	defer cancel()

	ack := recvEvent(t, ch)
	if ack.Type != TypeConnected {
		t.Fatalf("first event = %s, want connected ack", ack.Type)
	}
	if ack.Ack == nil || ack.Ack.SubscriberID != id || ack.Ack.Platform != "web" {
		t.Fatalf("ack payload = %+v", ack.Ack)
	}
}

func TestEmitFansOutToAllWhenUnscoped(t *testing.T) {
	b := NewBroadcaster()
	_, web, cancelWeb := b.Subscribe("web")
	_, word, cancelWord := b.Subscribe("word")
	defer cancelWeb()
	defer cancelWord()
	recvEvent(t, web)
	recvEvent(t, word)

	b.Emit(Event{Type: TypeLocked, Lock: &LockChange{DocumentID: "default-doc", ActorID: "usr_warren"}})

	for _, ch := range []<-chan Event{web, word} {
		e := recvEvent(t, ch)
		if e.Type != TypeLocked {
			t.Fatalf("event type = %s, want locked", e.Type)
		}
		if e.Lock == nil || e.Lock.ActorID != "usr_warren" {
			t.Fatalf("lock payload = %+v", e.Lock)
		}
		if e.Timestamp.IsZero() {
			t.Fatalf("emit must stamp the event")
		}
	}
}

func TestEmitHonorsPlatformScope(t *testing.T) {
	b := NewBroadcaster()
	_, web, cancelWeb := b.Subscribe("web")
	_, word, cancelWord := b.Subscribe("word")
	_, all, cancelAll := b.Subscribe("")
	defer cancelWeb()
	defer cancelWord()
	defer cancelAll()
	recvEvent(t, web)
	recvEvent(t, word)
	recvEvent(t, all)

	b.Emit(Event{Type: TypeSaved, PlatformScope: "word", Lock: &LockChange{DocumentID: "default-doc"}})

	if e := recvEvent(t, word); e.Type != TypeSaved {
		t.Fatalf("word subscriber got %s", e.Type)
	}
	if e := recvEvent(t, all); e.Type != TypeSaved {
		t.Fatalf("untagged subscriber should receive scoped events, got %s", e.Type)
	}
	select {
	case e := <-web:
		t.Fatalf("web subscriber should not receive word-scoped event, got %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnresponsiveSubscriberIsEvicted(t *testing.T) {
	b := NewBroadcaster()
	_, ch, _ := b.Subscribe("web")
	_ = ch // never drained past the buffered ack

	for i := 0; i < subscriberBuffer+2; i++ {
		b.Emit(Event{Type: TypeSaved})
	}

	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("subscriber count = %d, want 0 after eviction", n)
	}
	// Channel is closed on eviction so the serving goroutine unblocks.
	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatalf("channel was not closed on eviction")
		}
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	b := NewBroadcaster()
	_, ch, cancel := b.Subscribe("web")
	recvEvent(t, ch)
	cancel()
	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("subscriber count = %d after cancel", n)
	}
	// Emitting after cancel must not panic.
	b.Emit(Event{Type: TypeCancelled})
}
