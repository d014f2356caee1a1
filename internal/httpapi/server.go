// Package httpapi is the thin transport surface of spec §6: one
// handler per logical operation, decoding JSON requests and mapping
// typed core errors to HTTP status codes. It is the shell, not core —
// it owns no domain logic beyond request/response marshaling and
// per-session rate limiting.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kieranveyl/knowledgevault/internal/config"
	"github.com/kieranveyl/knowledgevault/internal/publish"
	"github.com/kieranveyl/knowledgevault/internal/query"
	"github.com/kieranveyl/knowledgevault/internal/store"
	"github.com/kieranveyl/knowledgevault/internal/visibility"
)

// Server exposes the vault's HTTP surface.
type Server struct {
	store       store.Store
	coordinator *publish.Coordinator
	engine      *query.Engine
	scheduler   *visibility.Scheduler
	limiters    *limiterSet
	mux         *http.ServeMux
}

// NewServer constructs a Server wired to the core pipeline components.
func NewServer(st store.Store, coord *publish.Coordinator, eng *query.Engine, sched *visibility.Scheduler, rl config.RateLimitConfig) *Server {
	s := &Server{
		store:       st,
		coordinator: coord,
		engine:      eng,
		scheduler:   sched,
		limiters:    newLimiterSet(rl),
		mux:         http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/v1/drafts/{noteID}", s.rateLimited(classDraft, s.handleSaveDraft))
	s.mux.HandleFunc("POST /api/v1/notes/{noteID}/publish", s.rateLimited(classMutation, s.handlePublish))
	s.mux.HandleFunc("POST /api/v1/notes/{noteID}/rollback", s.rateLimited(classMutation, s.handleRollback))
	s.mux.HandleFunc("GET /api/v1/search", s.rateLimited(classQuery, s.handleSearch))
	s.mux.HandleFunc("POST /api/v1/anchors/resolve", s.rateLimited(classQuery, s.handleResolveAnchor))
	s.mux.HandleFunc("GET /api/v1/notes/{noteID}/versions", s.rateLimited(classQuery, s.handleListVersions))
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	status := statusFromError(err)
	body := map[string]any{"error": err.Error()}
	if ra, ok := retryAfter(err); ok {
		w.Header().Set("Retry-After", time.Duration(ra*int64(time.Millisecond)).String())
		body["retry_after_ms"] = ra
	}
	respondJSON(w, status, body)
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
