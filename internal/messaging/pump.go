package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/PolicyPal/internal/models"
)

// Responder processes one inbound message and produces the assistant's reply.
// The conversation engine implements this; per-conversation serialization is
// its responsibility, so the pump may dispatch messages concurrently.
type Responder interface {
	HandleMessage(ctx context.Context, msg models.InboundMessage) (string, error)
}

// Pump drains a Service's inbound messages through a Responder and sends the
// replies back out on the same transport.
type Pump struct {
	service   Service
	responder Responder
}

// NewPump creates a pump connecting the transport to the responder.
func NewPump(service Service, responder Responder) *Pump {
	return &Pump{service: service, responder: responder}
}

// Run processes inbound messages until the context is cancelled or the
// service's message channel closes. Each message is handled on its own
// goroutine so slow conversations do not stall unrelated ones.
func (p *Pump) Run(ctx context.Context) {
	slog.Info("messaging: pump started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("messaging: pump stopping", "reason", ctx.Err())
			return
		case msg, ok := <-p.service.Messages():
			if !ok {
				slog.Info("messaging: pump stopping, message channel closed")
				return
			}
			go p.handle(ctx, msg)
		}
	}
}

func (p *Pump) handle(ctx context.Context, msg models.InboundMessage) {
	reply, err := p.responder.HandleMessage(ctx, msg)
	if err != nil {
		slog.Error("messaging: responder failed", "conversation_id", msg.ConversationID, "error", err)
		return
	}
	if reply == "" {
		return
	}
	if err := p.service.SendMessage(ctx, msg.ConversationID, reply); err != nil {
		slog.Error("messaging: reply send failed", "conversation_id", msg.ConversationID, "error", err)
	}
}
