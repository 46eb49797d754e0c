package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/PolicyPal/internal/models"
	"github.com/BTreeMap/PolicyPal/internal/whatsapp"
)

const (
	// DefaultChannelBufferSize is the inbound message channel buffer.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds the non-blocking channel handoff.
	DefaultChannelTimeout = 1 * time.Second
)

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// canonicalizePhoneNumber strips everything but digits and requires at least
// six of them.
func canonicalizePhoneNumber(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}

// WhatsAppService implements Service using the Whatsmeow-based client.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // non-nil only with a real client, for event handling
	messages chan models.InboundMessage
	done     chan struct{}
}

// NewWhatsAppService creates a WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{
		client:   client,
		messages: make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
	}
	return s
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhoneNumber(recipient)
}

// Start registers the inbound event handler. With a fake sender there is
// nothing to start.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("messaging: no full WhatsApp client, skipping event handling")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	slog.Debug("messaging: WhatsApp event handler registered")
	return nil
}

// Stop closes the inbound channel.
func (s *WhatsAppService) Stop() error {
	close(s.done)
	close(s.messages)
	slog.Info("messaging: WhatsApp service stopped")
	return nil
}

// SendMessage sends a text message to a recipient phone number.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	return s.client.SendMessage(ctx, canonical, body)
}

// Messages returns the channel of inbound user messages.
func (s *WhatsAppService) Messages() <-chan models.InboundMessage {
	return s.messages
}

func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = *evt.Message.ExtendedTextMessage.Text
	default:
		// Skip non-text messages (images, audio, etc.).
		slog.Debug("messaging: ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	conversationID := strings.TrimSpace(evt.Info.Sender.User)
	msg := models.InboundMessage{
		ConversationID: conversationID,
		Body:           text,
		Time:           evt.Info.Timestamp,
	}

	select {
	case s.messages <- msg:
		slog.Debug("messaging: inbound message forwarded", "conversation_id", conversationID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("messaging: message channel blocked, dropping message", "conversation_id", conversationID)
	}
}
