package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/PolicyPal/internal/messaging"
	"github.com/BTreeMap/PolicyPal/internal/rag"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Ingestor accepts policy document chunks into the corpus.
type Ingestor interface {
	Ingest(ctx context.Context, chunks []rag.Chunk) error
}

// WebhookIngestor accepts transport webhook messages. The Twilio messaging
// service implements this.
type WebhookIngestor interface {
	Ingest(from, body string) error
}

// Server hosts PolicyPal's HTTP endpoints.
type Server struct {
	responder messaging.Responder
	ingestor  Ingestor
	webhook   WebhookIngestor // nil when the Twilio transport is not configured
	httpSrv   *http.Server
}

// NewServer creates the HTTP server. webhook may be nil.
func NewServer(addr string, responder messaging.Responder, ingestor Ingestor, webhook WebhookIngestor) *Server {
	s := &Server{responder: responder, ingestor: ingestor, webhook: webhook}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/chat", s.chatHandler)
	mux.HandleFunc("/documents", s.documentsHandler)
	mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Start serves HTTP until Shutdown is called. It blocks.
func (s *Server) Start() error {
	slog.Info("api: server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// newConversationID mints an id for chat clients that do not supply one.
func newConversationID() string {
	return "web_" + uuid.NewString()
}
