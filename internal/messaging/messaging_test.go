package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/PolicyPal/internal/models"
)

type fakeWhatsAppSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeWhatsAppSender) SendMessage(ctx context.Context, to string, body string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+": "+body)
	return nil
}

func TestCanonicalizePhoneNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 (416) 555-0100", "14165550100", false},
		{"14165550100", "14165550100", false},
		{"whatsapp:+14165550100", "14165550100", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := canonicalizePhoneNumber(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("canonicalizePhoneNumber(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("canonicalizePhoneNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWhatsAppServiceSendCanonicalizes(t *testing.T) {
	sender := &fakeWhatsAppSender{}
	svc := NewWhatsAppService(sender)

	if err := svc.SendMessage(context.Background(), "+1 (416) 555-0100", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "14165550100: hello" {
		t.Errorf("sent = %v", sender.sent)
	}

	if err := svc.SendMessage(context.Background(), "not a number", "hello"); err == nil {
		t.Error("expected validation error")
	}
}

func TestTwilioServiceIngestFeedsMessages(t *testing.T) {
	svc := NewTwilioService(&fakeWhatsAppSender{})

	if err := svc.Ingest("whatsapp:+14165550100", "my employee missed a shift"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	select {
	case msg := <-svc.Messages():
		if msg.ConversationID != "14165550100" || msg.Body != "my employee missed a shift" {
			t.Errorf("msg = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestTwilioServiceStopIsIdempotent(t *testing.T) {
	svc := NewTwilioService(&fakeWhatsAppSender{})
	if err := svc.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "14165550100", "x"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("send after stop = %v", err)
	}
	if err := svc.Ingest("14165550100", "x"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("ingest after stop = %v", err)
	}
}

type scriptedResponder struct {
	mu      sync.Mutex
	replies map[string]string
	calls   int
}

func (r *scriptedResponder) HandleMessage(ctx context.Context, msg models.InboundMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.replies[msg.Body], nil
}

func TestPumpRoutesRepliesBack(t *testing.T) {
	sender := &fakeWhatsAppSender{}
	svc := NewTwilioService(sender)
	responder := &scriptedResponder{replies: map[string]string{"hello": "hi there"}}
	pump := NewPump(svc, responder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pump.Run(ctx)

	if err := svc.Ingest("14165550100", "hello"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		sender.mu.Lock()
		n := len(sender.sent)
		sender.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("reply never sent")
		case <-time.After(10 * time.Millisecond):
		}
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.sent[0] != "14165550100: hi there" {
		t.Errorf("sent = %v", sender.sent)
	}
}
