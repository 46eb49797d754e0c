// Package messaging provides the transport boundary between PolicyPal's
// conversation engine and the outside world.
package messaging

import (
	"context"
	"errors"

	"github.com/BTreeMap/PolicyPal/internal/models"
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction. A conversation id
// is the canonicalized recipient identifier supplied by the transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier. Each transport implements its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins background processing (event handling, polling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the message channel.
	Stop() error

	// Messages returns the channel of inbound user messages.
	Messages() <-chan models.InboundMessage
}
