/*
Package events is an in-process, MAC-filtered pub/sub fan-out for
BootEvents. Publish is non-blocking; a single goroutine drains the
internal queue and broadcasts to subscribers in arrival order, so a
per-MAC subscriber (as pkg/orchestrator uses via SubscribeMAC) always
sees its machine's events in the order Control recorded them.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.SubscribeMAC("aabbccddeeff")
	defer broker.Unsubscribe(sub)
	for evt := range sub {
		...
	}

There is no persistence or replay here; the durable event log lives in
pkg/storage. This package only distributes events to whoever is
subscribed at publish time.
*/
package events
