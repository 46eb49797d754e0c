// Package mailer defines the outbound mail boundary for PolicyPal.
//
// The email flow controller delegates sending here; retries, if any, are the
// provider's responsibility, never the flow controller's.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// requestTimeout bounds every send round trip.
const requestTimeout = 15 * time.Second

// DefaultGraphBaseURL is the production Graph endpoint.
const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender is the external mail collaborator.
type Sender interface {
	SendMail(ctx context.Context, mailboxID string, msg Message) error
}

// TokenSource supplies a bearer token for Graph requests.
type TokenSource func(ctx context.Context) (string, error)

// GraphSender implements Sender against the Microsoft Graph sendMail API.
type GraphSender struct {
	baseURL string
	http    *http.Client
	token   TokenSource
}

// NewGraphSender creates a GraphSender. baseURL may be empty to use the
// production endpoint.
func NewGraphSender(baseURL string, token TokenSource) *GraphSender {
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	return &GraphSender{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		token:   token,
	}
}

// SendMail sends one message from the given mailbox.
func (s *GraphSender) SendMail(ctx context.Context, mailboxID string, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	payload := map[string]any{
		"message": map[string]any{
			"subject": msg.Subject,
			"body": map[string]string{
				"contentType": "Text",
				"content":     msg.Body,
			},
			"toRecipients": []map[string]any{
				{"emailAddress": map[string]string{"address": msg.To}},
			},
		},
		"saveToSentItems": true,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", s.baseURL, url.PathEscape(mailboxID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	tok, err := s.token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := s.http.Do(req)
	if err != nil {
		slog.Error("mailer: send failed", "error", err, "to", msg.To)
		return fmt.Errorf("send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("mailer: provider rejected message", "status", resp.StatusCode, "to", msg.To)
		return fmt.Errorf("mail provider returned status %d: %s", resp.StatusCode, string(body))
	}

	slog.Info("mailer: message sent", "to", msg.To, "subject", msg.Subject)
	return nil
}
