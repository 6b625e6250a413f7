// Package isotperr defines the non-overlapping error taxonomy every
// Poll* call in this module surfaces. Base sentinels are wrapped with
// github.com/pkg/errors so callers can attach context (the offending
// frame, the byte offset) with errors.Wrap while errors.Is/errors.Cause
// still recover the sentinel.
package isotperr

import "github.com/pkg/errors"

var (
	// InvalidFrame is returned when a decoded frame violates protocol
	// expectations in the current state.
	InvalidFrame = errors.New("isotp: invalid frame for current state")
	// UnknownFrameKind is returned when a frame's PCI nibble is not one
	// of the four assigned values.
	UnknownFrameKind = errors.New("isotp: unknown PCI frame kind")
	// Aborted is returned when the peer sent FlowControl(Abort).
	Aborted = errors.New("isotp: transfer aborted by peer")
	// UnexpectedEOF is returned when the frame source ends before a
	// message completes.
	UnexpectedEOF = errors.New("isotp: frame source ended mid-message")
)

// Transmit wraps an error reported by the sink.
func Transmit(err error) error { return errors.Wrap(err, "isotp: sink error") }

// Receive wraps an error reported by the source.
func Receive(err error) error { return errors.Wrap(err, "isotp: source error") }

// Delay wraps an error reported by the delay service.
func Delay(err error) error { return errors.Wrap(err, "isotp: delay error") }
