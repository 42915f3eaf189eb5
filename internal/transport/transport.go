// Package transport owns the interactive remote-shell connection to a device.
// It moves raw bytes in both directions and knows nothing about what the device prints.
package transport

import (
	"context"

	"github.com/bueste/switchbackup/pkg/models"
)

// Session is one open interactive shell on a device.
// A Session is used for a single device pass and then closed.
type Session interface {
	// Send writes raw text to the shell.
	Send(text string) error
	// Receive returns the next chunk of output, at most maxBytes long.
	// It never blocks past ctx; a timeout is reported as models.ErrTransportRead.
	Receive(ctx context.Context, maxBytes int) ([]byte, error)
	// Close releases the shell and the underlying connection. Safe to call more than once.
	Close() error
}

// Dialer opens sessions to devices
type Dialer interface {
	Open(ctx context.Context, profile models.DeviceProfile) (Session, error)
}
