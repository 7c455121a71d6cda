// Package events implements the append-only BootEvent log's in-process
// pub/sub fan-out: Control publishes every observed BootEvent here, and
// the DeploymentOrchestrator subscribes per-MAC to consume them, in
// arrival order, as the ground truth driving each job's phase advances.
package events

import (
	"sync"
	"time"

	"github.com/cuemby/fleetboot/pkg/types"
)

// Subscriber is a channel that receives BootEvents matching a filter.
type Subscriber chan *types.BootEvent

// Broker manages BootEvent subscriptions and distribution. Publish order
// is preserved per subscriber because a single goroutine drains the
// internal queue and broadcasts sequentially.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]string // subscriber -> MAC filter ("" = all)
	eventCh     chan *types.BootEvent
	stopCh      chan struct{}
}

// NewBroker creates a new BootEvent broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]string),
		eventCh:     make(chan *types.BootEvent, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a subscription that receives every published event.
func (b *Broker) Subscribe() Subscriber {
	return b.subscribeFiltered("")
}

// SubscribeMAC creates a subscription that receives only BootEvents for
// the given normalized MAC address.
func (b *Broker) SubscribeMAC(mac string) Subscriber {
	return b.subscribeFiltered(mac)
}

func (b *Broker) subscribeFiltered(mac string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = mac
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes a BootEvent to all matching subscribers.
func (b *Broker) Publish(event *types.BootEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *types.BootEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, mac := range b.subscribers {
		if mac != "" && mac != event.MAC {
			continue
		}
		select {
		case sub <- event:
		default:
			// Subscriber buffer full; the event is dropped for this
			// subscriber and is not re-delivered.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
