// Package eventbus provides the in-process publish/subscribe primitive used
// by every roomlink component.
//
// The eventbus package implements:
//   - Named channels with any number of handlers each
//   - Synchronous dispatch in registration order
//   - Removal by subscription token
//   - The fixed channel vocabulary shared by transport and room layers
//
// Dispatch:
//
// Emit calls every handler registered for the channel at the moment Emit
// starts, in the order they were registered, on the calling goroutine. A
// handler that panics is not recovered; the panic reaches the caller of
// Emit. There is no ordering guarantee across different channels.
//
// Handlers run without the bus lock held, so a handler may subscribe,
// unsubscribe or emit again on the same bus.
//
// Usage:
//
//	bus := eventbus.New()
//	sub := bus.On(eventbus.Open, func(ev eventbus.Event) {
//		log.Println("connected")
//	})
//	bus.Emit(eventbus.Open, nil)
//	bus.Off(sub)
package eventbus
