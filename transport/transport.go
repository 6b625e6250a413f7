// Package transport defines the duplex channel abstraction the reader and
// writer state machines are driven over: a Sink for outbound frames, a
// Source for inbound frames, and the Status poll result shared by every
// suspension point in this module (sink readiness, sink flush, source
// frame arrival, delay completion).
package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"isotp/frame"
)

// Status is the result of a non-blocking poll: either the operation made
// progress (Ready) or the caller must be re-invoked later (Pending). No
// suspension point in this package may block the calling goroutine;
// Pending is the only admissible way to say "not yet".
type Status int

const (
	Pending Status = iota
	Ready
)

func (s Status) String() string {
	if s == Ready {
		return "Ready"
	}
	return "Pending"
}

// Sink is the outbound half of a duplex channel. Submit's precondition is
// that the most recent PollReady call returned Ready; a Submit made after
// that never blocks.
type Sink interface {
	// PollReady reports whether Submit may be called now.
	PollReady(ctx context.Context) (Status, error)
	// Submit enqueues a frame. Only valid immediately after PollReady
	// returned Ready.
	Submit(f frame.Frame) error
	// PollFlush reports whether all submitted frames have left the sink.
	PollFlush(ctx context.Context) (Status, error)
	// PollClose releases the sink's resources.
	PollClose(ctx context.Context) (Status, error)
}

// Source is the inbound half of a duplex channel: a lazy, finite sequence
// of frames.
type Source interface {
	// PollNext returns the next frame. ok is false only when Ready and
	// the source has ended (no error) — callers that expect more frames
	// before message completion must treat that as UnexpectedEOF
	// themselves, since the source has no notion of "mid message".
	PollNext(ctx context.Context) (status Status, f frame.Frame, ok bool, err error)
}

// Channel bundles one Sink and one Source. The single-slot flag in Channel
// refuses a second Borrow until the first is released; reader.New and
// writer.New take a bare Sink and Source and do not consult it.
type Channel struct {
	Sink   Sink
	Source Source

	mu       sync.Mutex
	borrowed bool
}

// NewChannel pairs a sink and a source into one duplex handle.
func NewChannel(sink Sink, source Source) *Channel {
	return &Channel{Sink: sink, Source: source}
}

// Borrow claims exclusive ownership of the channel, returning a Session
// and a release function. It fails if the channel is already borrowed.
func (c *Channel) Borrow() (*Session, func(), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.borrowed {
		return nil, nil, false
	}
	c.borrowed = true
	release := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.borrowed = false
	}
	return &Session{ID: uuid.New().String(), Sink: c.Sink, Source: c.Source}, release, true
}

// Session is one exclusive borrow of a Channel, tagged with a correlation
// id for logging. Readers and writers are built from a Session rather
// than a bare Channel so every message's log lines can be grouped.
type Session struct {
	ID     string
	Sink   Sink
	Source Source
}
