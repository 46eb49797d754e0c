package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/PolicyPal/internal/models"
	"github.com/BTreeMap/PolicyPal/internal/rag"
)

// chatRequest is the POST /chat body. ConversationID is optional; a fresh id
// is minted and returned when absent.
type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
}

// documentsRequest is the POST /documents body.
type documentsRequest struct {
	Documents []documentInput `json:"documents"`
}

type documentInput struct {
	ID      string `json:"id,omitempty"`
	Source  string `json:"source"`
	Content string `json:"content"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("api: chat request decode failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = newConversationID()
	}

	msg := models.InboundMessage{
		ConversationID: req.ConversationID,
		Body:           req.Message,
		Time:           time.Now(),
	}
	reply, err := s.responder.HandleMessage(r.Context(), msg)
	if err != nil {
		slog.Warn("api: chat request rejected", "conversation_id", req.ConversationID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(chatResponse{
		ConversationID: req.ConversationID,
		Reply:          reply,
	}))
}

func (s *Server) documentsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.ingestor == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Document ingestion is not configured"))
		return
	}

	var req documentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("api: documents request decode failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(req.Documents) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("At least one document is required"))
		return
	}

	chunks := make([]rag.Chunk, 0, len(req.Documents))
	for _, doc := range req.Documents {
		if strings.TrimSpace(doc.Content) == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Document content cannot be empty"))
			return
		}
		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}
		chunks = append(chunks, rag.Chunk{ID: id, Source: doc.Source, Content: doc.Content})
	}

	if err := s.ingestor.Ingest(r.Context(), chunks); err != nil {
		slog.Error("api: document ingestion failed", "error", err, "count", len(chunks))
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to ingest documents"))
		return
	}

	slog.Info("api: documents ingested", "count", len(chunks))
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Documents ingested", map[string]int{"count": len(chunks)}))
}

// twilioWebhookHandler receives Twilio's inbound message callbacks
// (application/x-www-form-urlencoded with From and Body fields).
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.webhook == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Twilio transport is not configured"))
		return
	}

	if err := r.ParseForm(); err != nil {
		slog.Warn("api: twilio webhook parse failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form data"))
		return
	}
	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || strings.TrimSpace(body) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("From and Body are required"))
		return
	}

	if err := s.webhook.Ingest(from, body); err != nil {
		slog.Error("api: twilio webhook ingest failed", "error", err, "from", from)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to accept message"))
		return
	}

	// The reply goes out asynchronously through the Twilio API, so the
	// webhook response carries no message content.
	w.WriteHeader(http.StatusNoContent)
}
