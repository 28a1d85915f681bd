package handlers

import (
	"net/http"

	"portfolio-chat/internal/app"
	"portfolio-chat/internal/auth"
)

// NewRouter builds the routes of the long-running process. The operator API
// is mounted only when cfg.AdminEnabled().
func NewRouter(cfg *app.Config, authenticator *auth.Authenticator) *http.ServeMux {
	origin := cfg.AppConfig.Server.AllowedOrigin
	chatCORS := ChatCORS(origin)
	adminCORS := AdminCORS(origin)

	// Create new ServeMux to use Go 1.22+ routing features for path parameters
	mux := http.NewServeMux()

	// /api/chat is registered without a method so other methods get the JSON 405
	chatHandler := NewChatHandlers(cfg)
	mux.HandleFunc("/api/chat", chatCORS.Wrap(chatHandler.ChatStreamHandler))

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}

	if cfg.AdminEnabled() && authenticator != nil {
		adminHandler := NewAdminHandlers(cfg)
		preflight := adminCORS.Wrap(func(w http.ResponseWriter, r *http.Request) {})

		mux.HandleFunc("POST /api/admin/login", adminCORS.Wrap(authenticator.LoginHandler))
		mux.HandleFunc("OPTIONS /api/admin/login", preflight)

		// Protected routes
		mux.HandleFunc("GET /api/admin/sessions", adminCORS.Wrap(authenticator.AuthMiddleware(adminHandler.ListSessionsHandler)))
		mux.HandleFunc("OPTIONS /api/admin/sessions", preflight)
		mux.HandleFunc("GET /api/admin/sessions/{id}/messages", adminCORS.Wrap(authenticator.AuthMiddleware(adminHandler.SessionMessagesHandler)))
		mux.HandleFunc("OPTIONS /api/admin/sessions/{id}/messages", preflight)
		mux.HandleFunc("POST /api/admin/sessions/{id}/end", adminCORS.Wrap(authenticator.AuthMiddleware(adminHandler.EndSessionHandler)))
		mux.HandleFunc("OPTIONS /api/admin/sessions/{id}/end", preflight)
	}

	return mux
}
