// Package transport implements the wire-level contract the protocol
// engine consumes (spec.md §6): push-style line delivery, a
// message_integrity flag that disables checksumming on transports
// that already guarantee delivery, and connect/disconnect lifecycle.
package transport

import "context"

// Listener receives one terminator-delimited logical line at a time,
// mirroring the original's on_transport_data_pushed hook.
type Listener func(line string)

// Transport is the contract the engine drives. Implementations must
// be safe for concurrent Write while a background goroutine delivers
// inbound lines to the registered Listener.
type Transport interface {
	// Connect opens the underlying channel. It may block until the
	// device is available; ctx cancellation aborts the attempt.
	Connect(ctx context.Context) error

	// Disconnect closes the underlying channel. Idempotent.
	Disconnect() error

	// Write sends raw bytes (already newline-terminated by the caller).
	Write(data []byte) (int, error)

	// Active reports whether the transport currently has an open
	// connection.
	Active() bool

	// MessageIntegrity reports whether this transport already
	// guarantees ordered, uncorrupted delivery; true disables
	// checksumming in the sending loop (spec.md §4.I step 6).
	MessageIntegrity() bool

	// SetListener installs the callback invoked for every inbound
	// line. Must be called before Connect.
	SetListener(fn Listener)
}
