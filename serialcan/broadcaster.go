package serialcan

import (
	"sync"

	"isotp/canbus"
	"isotp/logging"
)

// FrameBroadcaster fans a single stream of received canbus.Frame values
// out to any number of subscribers.
type FrameBroadcaster struct {
	log         *logging.Logger
	subscribers map[chan canbus.Frame]struct{}
	lock        sync.RWMutex
}

// NewFrameBroadcaster creates a FrameBroadcaster that logs dropped frames
// through log.
func NewFrameBroadcaster(log *logging.Logger) *FrameBroadcaster {
	return &FrameBroadcaster{
		log:         log,
		subscribers: make(map[chan canbus.Frame]struct{}),
	}
}

// Subscribe adds a new subscriber and returns a channel to receive frames.
func (b *FrameBroadcaster) Subscribe() chan canbus.Frame {
	ch := make(chan canbus.Frame, 128)
	b.lock.Lock()
	b.subscribers[ch] = struct{}{}
	b.lock.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *FrameBroadcaster) Unsubscribe(ch chan canbus.Frame) {
	b.lock.Lock()
	delete(b.subscribers, ch)
	close(ch)
	b.lock.Unlock()
}

// Broadcast sends a frame to every subscriber, dropping it for any
// subscriber whose channel is full rather than blocking the bus reader.
func (b *FrameBroadcaster) Broadcast(f canbus.Frame) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- f:
		default:
			if b.log != nil {
				b.log.WriteToLog("slow subscriber, frame channel full, dropping frame")
			}
		}
	}
}

// Cleanup unsubscribes and closes every subscriber channel.
func (b *FrameBroadcaster) Cleanup() {
	b.lock.Lock()
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.lock.Unlock()
}
