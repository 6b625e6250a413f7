// Package canbus defines the classical-CAN link-layer frame: an 11-bit
// arbitration identifier plus up to 8 data bytes. It is the wire unit that
// carries one ISO-TP PDU (see package frame) between two nodes.
package canbus

import (
	"fmt"
	"strings"
)

// Frame is a single classical-CAN data frame.
type Frame struct {
	ID   uint16   // arbitration identifier
	DLC  uint8    // data length code (0-8)
	Data [8]uint8 // data payload
}

// String formats the frame for logging.
func (f Frame) String() string {
	formatted := make([]string, f.DLC)
	for i := 0; i < int(f.DLC); i++ {
		formatted[i] = fmt.Sprintf("0x%02X", f.Data[i])
	}
	return fmt.Sprintf("ID: 0x%03X, DLC: %d, Data: %s", f.ID, f.DLC, strings.Join(formatted, " "))
}
