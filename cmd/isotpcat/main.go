// Command isotpcat sends or receives one ISO-TP message over a
// USB-serial CAN adapter, as a flag-driven CLI: no manual-frame text
// box, just the two operations the transport layer exists to support.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"isotp/delay"
	"isotp/logging"
	"isotp/reader"
	"isotp/scheduler"
	"isotp/serialcan"
	"isotp/transport"
	"isotp/writer"
)

func main() {
	var (
		portName = flag.String("port", "", "serial port device (auto-detected if empty)")
		txID     = flag.Uint("tx", 0x7E0, "arbitration ID this side transmits on")
		rxID     = flag.Uint("rx", 0x7E8, "arbitration ID this side listens on")
		mode     = flag.String("mode", "receive", "\"send\" or \"receive\"")
		message  = flag.String("message", "", "payload to send (mode=send only)")
		blockLen = flag.Uint("bs", 8, "block size this side announces to a sender (mode=receive only)")
		st       = flag.Uint("st", 0, "separation time this side announces, in ms (mode=receive only)")
		sniff    = flag.Bool("sniff", false, "log every raw frame seen on the bus, not just this session's")
	)
	flag.Parse()

	log := logging.NewLogger()

	if err := run(*portName, uint16(*txID), uint16(*rxID), *mode, *message, uint8(*blockLen), uint8(*st), *sniff, log); err != nil {
		log.WriteToLog(fmt.Sprintf("error: %s", err.Error()))
		os.Exit(1)
	}
}

func run(portName string, txID, rxID uint16, mode, message string, blockLen, st uint8, sniff bool, log *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var broadcaster *serialcan.FrameBroadcaster
	if sniff {
		broadcaster = serialcan.NewFrameBroadcaster(log)
		defer broadcaster.Cleanup()
	}

	var (
		tr  *serialcan.Transport
		err error
	)
	if portName == "" {
		tr, err = serialcan.Open(txID, rxID, broadcaster)
	} else {
		tr, err = serialcan.OpenPort(portName, txID, rxID, broadcaster)
	}
	if err != nil {
		return fmt.Errorf("opening serial transport: %w", err)
	}
	defer tr.Close()

	if broadcaster != nil {
		frames := broadcaster.Subscribe()
		go func() {
			for f := range frames {
				log.WriteToLog(fmt.Sprintf("bus: %s", f.String()))
			}
		}()
	}

	// One serial link serves one Reader-or-Writer at a time: Borrow
	// enforces that exclusivity and tags the session for logging.
	channel := transport.NewChannel(tr, tr)
	session, release, ok := channel.Borrow()
	if !ok {
		return fmt.Errorf("transport already in use")
	}
	defer release()
	log.WriteToLog(fmt.Sprintf("session %s starting, mode=%s", session.ID, mode))

	group, gctx := errgroup.WithContext(ctx)

	switch mode {
	case "send":
		group.Go(func() error {
			payload := []byte(message)
			w := writer.New(session.Sink, session.Source, delay.NewTimer(), len(payload))
			if err := scheduler.WriteMessage(gctx, w, payload); err != nil {
				return fmt.Errorf("writing message: %w", err)
			}
			log.WriteToLog(fmt.Sprintf("session %s sent %d bytes", session.ID, len(payload)))
			return nil
		})
	case "receive":
		group.Go(func() error {
			r := reader.New(session.Sink, session.Source, blockLen, st)
			got, err := scheduler.ReadMessage(gctx, r, 64)
			if err != nil {
				return fmt.Errorf("reading message: %w", err)
			}
			log.WriteToLog(fmt.Sprintf("session %s received %d bytes: %q", session.ID, len(got), got))
			return nil
		})
	default:
		return fmt.Errorf("unknown mode %q, want \"send\" or \"receive\"", mode)
	}

	return group.Wait()
}
