package main

import (
	"math/big"
	"sync"
	"time"

	"github.com/cloudx-io/openbid/core"
	"github.com/cloudx-io/openbid/enclaveapi"
)

// subscriberBuffer bounds the per-subscriber event queue. A subscriber
// that falls this far behind starts losing events rather than blocking
// the engine.
const subscriberBuffer = 16

// EventHub fans engine events out to subscribed connections. It is the
// engine's Emitter, so publishes happen with the engine lock held and
// must never block: sends to full subscriber queues are dropped.
type EventHub struct {
	mu    sync.Mutex
	subs  map[int]chan enclaveapi.EventFrame
	next  int
	nowFn func() int64
}

var _ core.Emitter = (*EventHub)(nil)

func NewEventHub() *EventHub {
	return &EventHub{
		subs:  make(map[int]chan enclaveapi.EventFrame),
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// Subscribe registers a new subscriber and returns its id and queue.
func (h *EventHub) Subscribe() (int, <-chan enclaveapi.EventFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan enclaveapi.EventFrame, subscriberBuffer)
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its queue.
func (h *EventHub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// SubscriberCount returns how many connections are subscribed.
func (h *EventHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *EventHub) publish(frame enclaveapi.EventFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- frame:
		default:
			// Subscriber queue full; drop rather than block the engine.
		}
	}
}

func (h *EventHub) BidAccepted(bidder core.Account, amount *big.Int, closing int64) {
	h.publish(enclaveapi.EventFrame{
		Type:    enclaveapi.TypeEvent,
		Event:   enclaveapi.EventBidAccepted,
		Account: string(bidder),
		Amount:  enclaveapi.FormatAmount(amount),
		Closing: closing,
		At:      h.nowFn(),
	})
}

func (h *EventHub) Finalized(winner core.Account, amount *big.Int) {
	h.publish(enclaveapi.EventFrame{
		Type:    enclaveapi.TypeEvent,
		Event:   enclaveapi.EventFinalized,
		Account: string(winner),
		Amount:  enclaveapi.FormatAmount(amount),
		At:      h.nowFn(),
	})
}

func (h *EventHub) Withdrawn(participant core.Account, amount *big.Int) {
	h.publish(enclaveapi.EventFrame{
		Type:    enclaveapi.TypeEvent,
		Event:   enclaveapi.EventWithdrawn,
		Account: string(participant),
		Amount:  enclaveapi.FormatAmount(amount),
		At:      h.nowFn(),
	})
}
