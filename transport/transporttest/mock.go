// Package transporttest provides hand-written test doubles for
// transport.Sink and transport.Source: no mocking framework, just a
// small struct each test configures directly.
package transporttest

import (
	"context"

	"isotp/frame"
	"isotp/transport"
)

// Sink is a transport.Sink backed by an in-memory slice. ReadyAfter, when
// set, delays readiness until the call counter reaches it — this exercises
// a caller's Pending handling without a real async backend.
type Sink struct {
	Sent    []frame.Frame
	Flushed int
	Closed  bool

	ReadyAfter int // number of PollReady calls that must return Pending first
	readyCalls int

	ReadyErr error
	FlushErr error
	SubmitErr error
}

func (s *Sink) PollReady(ctx context.Context) (transport.Status, error) {
	if s.ReadyErr != nil {
		return transport.Ready, s.ReadyErr
	}
	if s.readyCalls < s.ReadyAfter {
		s.readyCalls++
		return transport.Pending, nil
	}
	s.readyCalls = 0
	return transport.Ready, nil
}

func (s *Sink) Submit(f frame.Frame) error {
	if s.SubmitErr != nil {
		return s.SubmitErr
	}
	s.Sent = append(s.Sent, f)
	return nil
}

func (s *Sink) PollFlush(ctx context.Context) (transport.Status, error) {
	if s.FlushErr != nil {
		return transport.Ready, s.FlushErr
	}
	s.Flushed++
	return transport.Ready, nil
}

func (s *Sink) PollClose(ctx context.Context) (transport.Status, error) {
	s.Closed = true
	return transport.Ready, nil
}

// Inbound is one scripted PollNext result for Source.
type Inbound struct {
	Frame frame.Frame
	Err   error
}

// Source is a transport.Source that replays a scripted sequence of
// frames/errors, then reports stream end.
type Source struct {
	Queue []Inbound
	pos   int
}

func (s *Source) PollNext(ctx context.Context) (transport.Status, frame.Frame, bool, error) {
	if s.pos >= len(s.Queue) {
		return transport.Ready, frame.Frame{}, false, nil
	}
	next := s.Queue[s.pos]
	s.pos++
	if next.Err != nil {
		return transport.Ready, frame.Frame{}, true, next.Err
	}
	return transport.Ready, next.Frame, true, nil
}

// Delay is a writer.Delay double that completes immediately and records
// every Start call's argument.
type Delay struct {
	Starts []uint8
}

func (d *Delay) Start(ms uint8) {
	d.Starts = append(d.Starts, ms)
}

func (d *Delay) PollDelay(ctx context.Context) (transport.Status, error) {
	return transport.Ready, nil
}

func (d *Delay) Cancel() {}
