// Package server wires the agent core behind the HTTP/SSE surface: the
// streaming chat endpoint, history, usage, session CRUD, and stream resume.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	aster "github.com/corven/aster"
	"github.com/corven/aster/internal/config"
)

// SessionCookie is the cookie carrying the session identifier.
const SessionCookie = "session_id"

// sessionMaxAge is the cookie lifetime.
const sessionMaxAge = 24 * time.Hour

// Server is the HTTP surface around the agent core.
type Server struct {
	cfg      config.Config
	provider aster.Provider
	tools    aster.ToolExecutor
	skills   *aster.SkillRegistry
	sessions aster.SessionStore
	events   aster.EventStore
	logger   *slog.Logger
}

// New assembles a server from its collaborators.
func New(
	cfg config.Config,
	provider aster.Provider,
	tools aster.ToolExecutor,
	skills *aster.SkillRegistry,
	sessions aster.SessionStore,
	events aster.EventStore,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		cfg:      cfg,
		provider: provider,
		tools:    tools,
		skills:   skills,
		sessions: sessions,
		events:   events,
		logger:   logger,
	}
}

// Handler builds the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat/stream", s.handleChatStream)
		r.Get("/chat/history", s.handleHistory)
		r.Get("/chat/events", s.handleStreamEvents)
		r.Get("/usage", s.handleUsage)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/", s.handleListSessions)
			r.Get("/{id}", s.handleGetSession)
			r.Delete("/{id}", s.handleDeleteSession)
		})
	})
	return r
}

// sessionID reads the session cookie, minting a fresh id when absent.
// Returns the id and whether it was newly created.
func (s *Server) sessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookie)
	if err == nil && cookie.Value != "" {
		return cookie.Value, false
	}
	id := aster.NewSessionID()
	s.logger.Debug("new session", "session_id", id)
	return id, true
}

// setSessionCookie refreshes the cookie so its expiry slides on every turn.
func (s *Server) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cfg.Server.Production,
		MaxAge:   int(sessionMaxAge.Seconds()),
	})
}

// newAgent builds the per-turn agent around a session's state.
func (s *Server) newAgent(conversation []aster.Message, usage *aster.UsageMonitor, tokens *aster.TokenCounter) *aster.Agent {
	compactor := aster.NewCompactor(s.provider, tokens, s.logger)
	agent := aster.NewAgent(
		aster.AgentConfig{
			Model:        s.cfg.Provider.Model,
			MaxTokens:    s.cfg.Provider.MaxTokens,
			SystemPrompt: s.cfg.Provider.SystemPrompt,
		},
		s.provider,
		aster.WithTools(s.tools),
		aster.WithSkills(s.skills),
		aster.WithUsageMonitor(usage),
		aster.WithTokenCounter(tokens),
		aster.WithCompactor(compactor),
		aster.WithAgentLogger(s.logger),
	)
	agent.Conversation = conversation
	return agent
}
