package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter mounts the read-only API and the websocket endpoint.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID, s.accessLog, s.cors)
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/state", s.handleState)
		r.Get("/stats", s.handleStats)
		r.Get("/history", s.handleCategories)
		r.Get("/history/{category}", s.handleHistory)
		r.Get("/macros", s.handleMacros)
	})

	path := s.wsCfg.Path
	if path == "" {
		path = "/ws"
	}
	r.Get(path, s.handleFeed)

	return r
}

// handleHealth answers 200 while the process serves requests. A failed
// connection check reports "degraded" with the same 200; only an
// unresponsive process fails the supervisor's health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"name":    s.source.Name(),
		"version": s.version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"clients": s.hub.ClientCount(),
		"dropped": s.hub.Dropped(),
	}
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.State())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Stats())
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	hs, ok := s.source.(HistorySource)
	if !ok {
		writeNotFound(w, s.source.Name()+" keeps no status history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": hs.Categories()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	hs, ok := s.source.(HistorySource)
	if !ok {
		writeNotFound(w, s.source.Name()+" keeps no status history")
		return
	}
	category := chi.URLParam(r, "category")
	entries := hs.History(category)
	if entries == nil {
		writeNotFound(w, "no entries for category "+category)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"entries":  entries,
		"count":    len(entries),
	})
}

func (s *Server) handleMacros(w http.ResponseWriter, _ *http.Request) {
	ms, ok := s.source.(MacroSource)
	if !ok {
		writeNotFound(w, s.source.Name()+" runs no macros")
		return
	}
	fns := ms.Functions()
	writeJSON(w, http.StatusOK, map[string]any{
		"functions": fns,
		"count":     len(fns),
	})
}
