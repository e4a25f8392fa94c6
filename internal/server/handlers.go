package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	aster "github.com/corven/aster"
)

// chatRequest is the body of the streaming chat endpoint.
type chatRequest struct {
	Message     string             `json:"message"`
	Attachments []aster.Attachment `json:"attachments,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorPayload(err error) aster.ErrorData {
	var ve *aster.ValidationError
	if errors.As(err, &ve) {
		return aster.ErrorData{Type: "validation", Message: ve.Message}
	}
	var pe *aster.ProviderError
	if errors.As(err, &pe) {
		return aster.ErrorData{Type: pe.Kind.String(), Message: pe.Message}
	}
	return aster.ErrorData{Type: "internal", Message: err.Error()}
}

// handleChatStream runs one agent turn and streams its events. The event
// stream is also recorded in the event store under the session id so a
// disconnected client can replay it from an offset.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	sessionID, _ := s.sessionID(r)
	s.setSessionCookie(w, sessionID)

	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	ctx := r.Context()
	conversation, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		s.streamError(ctx, sse, sessionID, err)
		return
	}
	records, err := s.sessions.LoadUsage(ctx, sessionID)
	if err != nil {
		s.streamError(ctx, sse, sessionID, err)
		return
	}

	usage := aster.NewUsageMonitor(s.cfg.Provider.Model, aster.WithUsageLogger(s.logger))
	usage.Load(records)
	tokens := aster.NewTokenCounter(aster.ContextWindowFor(s.cfg.Provider.Model), aster.WithTokenLogger(s.logger))
	if last, ok := usage.Last(); ok {
		tokens.SetLast(last.TotalInput(), last.OutputTokens)
	}

	agent := s.newAgent(conversation, usage, tokens)

	events := make(chan aster.Event, 64)
	var turnErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		turnErr = agent.StreamTurn(ctx, req.Message, req.Attachments, events)
	}()

	for ev := range events {
		s.recordEvent(ctx, sessionID, ev)
		if err := sse.send(ev.Type, ev.Data); err != nil {
			// Client went away. Keep draining: events still land in the
			// event store, where a reconnecting client replays them.
			s.logger.Debug("client disconnected mid-stream", "session_id", sessionID)
		}
	}
	<-done

	if turnErr != nil {
		s.streamError(ctx, sse, sessionID, turnErr)
		return
	}

	if err := s.sessions.Save(ctx, sessionID, agent.Conversation); err != nil {
		s.streamError(ctx, sse, sessionID, err)
		return
	}
	if err := s.sessions.SaveUsage(ctx, sessionID, usage.Records()); err != nil {
		s.streamError(ctx, sse, sessionID, err)
		return
	}

	s.recordEvent(ctx, sessionID, aster.Event{Type: aster.EventDone, Data: ""})
	_ = s.events.MarkComplete(ctx, sessionID)
	_ = sse.send(aster.EventDone, "")
}

// streamError emits the terminal error event and marks the stream failed.
func (s *Server) streamError(ctx context.Context, sse *sseWriter, sessionID string, err error) {
	payload := errorPayload(err)
	s.logger.Error("turn failed", "session_id", sessionID, "type", payload.Type, "error", err)
	s.recordEvent(ctx, sessionID, aster.Event{Type: aster.EventError, Data: payload})
	_ = s.events.MarkFailed(ctx, sessionID)
	_ = sse.send(aster.EventError, payload)
}

// recordEvent appends one agent event to the resumable log.
func (s *Server) recordEvent(ctx context.Context, sessionID string, ev aster.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return
	}
	_ = s.events.Append(ctx, sessionID, aster.StreamEvent{
		Type:      ev.Type,
		Data:      string(data),
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	})
}

// handleStreamEvents replays the session's event log from an offset.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		writeJSON(w, http.StatusOK, map[string]any{"events": []aster.StreamEvent{}, "status": nil})
		return
	}
	sessionID := cookie.Value

	after := r.URL.Query().Get("after")
	count := 100
	if c := r.URL.Query().Get("count"); c != "" {
		if n, err := strconv.Atoi(c); err == nil && n > 0 {
			count = n
		}
	}

	events, err := s.events.Read(r.Context(), sessionID, after, count)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	status, err := s.events.GetStatus(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if events == nil {
		events = []aster.StreamEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "status": status})
}

// handleHistory returns the text view of the conversation: one entry per
// message that carries text, non-text blocks omitted.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		writeJSON(w, http.StatusOK, map[string]any{"messages": []any{}})
		return
	}

	conversation, err := s.sessions.Load(r.Context(), cookie.Value)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	type clientMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	messages := []clientMessage{}
	for _, msg := range conversation {
		if text, ok := msg.PlainText(); ok {
			messages = append(messages, clientMessage{Role: msg.Role, Content: text})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleUsage returns aggregated counters, the cost estimate, and the
// context-window snapshot derived from the last record.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		writeJSON(w, http.StatusOK, aster.NewUsageMonitor(s.cfg.Provider.Model).Summary())
		return
	}

	records, err := s.sessions.LoadUsage(r.Context(), cookie.Value)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	usage := aster.NewUsageMonitor(s.cfg.Provider.Model)
	usage.Load(records)
	tokens := aster.NewTokenCounter(aster.ContextWindowFor(s.cfg.Provider.Model))
	if last, ok := usage.Last(); ok {
		tokens.SetLast(last.TotalInput(), last.OutputTokens)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"usage":   usage.Summary(),
		"context": tokens.Status(),
	})
}

// handleCreateSession mints a session id and sets the cookie.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := aster.NewSessionID()
	s.setSessionCookie(w, id)
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

// handleListSessions returns summaries of all persisted sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = []aster.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleGetSession returns one session's conversation.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conversation, err := s.sessions.Load(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"messages":   conversation,
	})
}

// handleDeleteSession removes a session and its usage.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.DeleteSession(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}
