package events

import (
	"log"
	"sync"
	"time"

	"redline/api/internal/util"
)

const subscriberBuffer = 16

type subscriber struct {
	id       string
	platform string
	ch       chan Event
}

// Broadcaster fans events out to the currently subscribed observers.
// Emit never blocks the caller: a subscriber whose channel cannot accept
// the push is evicted on the spot.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]*subscriber
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]*subscriber)}
}

// Subscribe registers an observer tagged with the platform that opened it
// (empty receives everything) and returns its id, the event channel, and a
// cancel func. The first event on the channel is the connection ack.
func (b *Broadcaster) Subscribe(platform string) (string, <-chan Event, func()) {
	sub := &subscriber{
		id:       util.NewID("sub"),
		platform: platform,
		ch:       make(chan Event, subscriberBuffer),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	sub.ch <- Event{
		Type:      TypeConnected,
		Timestamp: time.Now().UTC(),
		Ack:       &Ack{SubscriberID: sub.id, Platform: platform},
	}

	cancel := func() { b.remove(sub.id) }
	return sub.id, sub.ch, cancel
}

// Emit delivers the event to every subscriber whose platform tag matches
// the event's scope, or to all subscribers when the scope is empty.
func (b *Broadcaster) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	var dead []string
	for _, sub := range b.subs {
		if event.PlatformScope != "" && sub.platform != "" && sub.platform != event.PlatformScope {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			dead = append(dead, sub.id)
		}
	}
	for _, id := range dead {
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
	}
	b.mu.Unlock()

	for _, id := range dead {
		log.Printf("events: dropped unresponsive subscriber %s", id)
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}
