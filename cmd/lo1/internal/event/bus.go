// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package event

import (
	"sync"
)

// DefaultBufferSize is the event channel capacity.
//
// Sized for bursts of service output during parallel layer startup;
// a consumer that keeps up never observes drops.
const DefaultBufferSize = 256

// Bus delivers orchestrator events to a single consumer.
//
// # Description
//
// Publish never blocks the orchestrator. When the channel is full,
// OutputEvents are dropped (and counted); PhaseEvent, ServiceEvent,
// HookEvent, and ErrorEvent spill into an overflow queue drained ahead
// of newer events so they are never lost.
//
// # Thread Safety
//
// Publish is safe for concurrent use from runner goroutines.
// Events() must be consumed by exactly one goroutine.
//
// # Example
//
//	bus := event.NewBus(0)
//	go func() {
//	    for ev := range bus.Events() {
//	        fmt.Println(ev.String())
//	    }
//	}()
//	bus.Publish(event.PhaseEvent{Phase: "Ready"})
//	bus.Close()
type Bus struct {
	ch       chan Event
	overflow []Event
	dropped  int64
	closed   bool
	mu       sync.Mutex
}

// NewBus creates a Bus with the given buffer size (DefaultBufferSize
// when size <= 0).
func NewBus(size int) *Bus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Bus{ch: make(chan Event, size)}
}

// Events returns the consumer channel. Closed by Close().
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Publish enqueues an event without blocking.
//
// Critical events (everything except output lines) are retained even
// under back-pressure; output lines are dropped when the buffer is full.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	// Preserve ordering: drain older critical spill before new events.
	b.drainOverflowLocked()

	if len(b.overflow) == 0 {
		select {
		case b.ch <- ev:
			return
		default:
		}
	}

	if ev.Type() == TypeOutput {
		b.dropped++
		return
	}
	b.overflow = append(b.overflow, ev)
}

// Dropped returns the count of output events discarded under
// back-pressure.
func (b *Bus) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close flushes spilled critical events and closes the consumer channel.
//
// Close blocks until the overflow queue fits into the channel buffer or
// the consumer has drained enough events, then closes the channel.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	pending := b.overflow
	b.overflow = nil
	ch := b.ch
	b.mu.Unlock()

	for _, ev := range pending {
		ch <- ev
	}
	close(ch)
}

// drainOverflowLocked moves spilled events into the channel while room
// remains. Caller holds b.mu.
func (b *Bus) drainOverflowLocked() {
	for len(b.overflow) > 0 {
		select {
		case b.ch <- b.overflow[0]:
			b.overflow = b.overflow[1:]
		default:
			return
		}
	}
}
