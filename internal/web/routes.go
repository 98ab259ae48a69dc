package web

import "net/http"

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/groups", http.StatusFound)
	})
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /login", s.handleLogin)
	mux.HandleFunc("GET /session", s.handleSessionForm)
	mux.HandleFunc("POST /session", s.handleSessionCreate)

	mux.HandleFunc("GET /groups", s.handleGroups)
	mux.HandleFunc("GET /groups/{id}", s.handleMessages)
	mux.HandleFunc("GET /groups/{id}/members", s.handleMembers)
	mux.HandleFunc("GET /groups/{id}/media/{msg}", s.handleMedia)
	mux.HandleFunc("POST /groups/{id}/messages", s.handleSendText)
	mux.HandleFunc("POST /groups/{id}/files", s.handleSendFile)
	mux.HandleFunc("POST /groups/{id}/digest", s.handleDigest)
	mux.HandleFunc("GET /api/groups/{id}/messages", s.handleMessagesAPI)
	mux.HandleFunc("GET /files", s.handleFiles)

	var handler http.Handler = mux
	handler = s.guard.middleware(handler)
	handler = withTimeout(s.cfg.requestTimeout, handler)
	handler = withRecover(s.cfg.logger, handler)
	handler = withAccessLog(s.cfg.logger, handler)
	handler = withRequestID(handler)

	return handler
}
