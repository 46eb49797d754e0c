package mailer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func staticToken(tok string) TokenSource {
	return func(ctx context.Context) (string, error) { return tok, nil }
}

func TestGraphSenderSendMail(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewGraphSender(srv.URL, staticToken("tok-123"))
	err := s.SendMail(context.Background(), "hr@example.com", Message{
		To:      "sarah@example.com",
		Subject: "Attendance follow-up",
		Body:    "Hi Sarah,",
	})
	if err != nil {
		t.Fatalf("SendMail: %v", err)
	}
	if gotPath != "/users/hr@example.com/sendMail" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("auth = %q", gotAuth)
	}
	msg, ok := gotBody["message"].(map[string]any)
	if !ok {
		t.Fatalf("payload missing message: %v", gotBody)
	}
	if msg["subject"] != "Attendance follow-up" {
		t.Errorf("subject = %v", msg["subject"])
	}
}

func TestGraphSenderSurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"mailbox not found"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewGraphSender(srv.URL, staticToken("tok"))
	err := s.SendMail(context.Background(), "missing@example.com", Message{To: "a@b.co", Subject: "x", Body: "y"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "mailbox not found") {
		t.Errorf("error should carry provider detail, got %v", err)
	}
}
