// Package api exposes the thin JSON surface the core needs for display and
// local writes. Rendering on top of it is out of scope.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"statusfeed/internal/publish"
	"statusfeed/internal/resolver"
	"statusfeed/internal/schema"
	"statusfeed/internal/store"
)

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 200
)

type Server struct {
	store       store.Store
	coordinator *publish.Coordinator
	resolver    *resolver.Resolver
	log         *slog.Logger
}

func NewServer(st store.Store, coord *publish.Coordinator, res *resolver.Resolver, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: st, coordinator: coord, resolver: res, log: log}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /feed", s.handleFeed)
	mux.HandleFunc("POST /status", s.handleSubmitStatus)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
}

type feedItem struct {
	Key        string `json:"key"`
	Author     string `json:"author"`
	AuthorName string `json:"authorName"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt"`
	IndexedAt  string `json:"indexedAt"`
	Provenance string `json:"provenance"`
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	limit := defaultFeedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if n > maxFeedLimit {
			n = maxFeedLimit
		}
		limit = n
	}

	records, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.log.Error("feed query failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.AuthorID)
	}
	names := s.resolver.Resolve(r.Context(), ids)

	items := make([]feedItem, 0, len(records))
	for _, rec := range records {
		items = append(items, feedItem{
			Key:        rec.Key.String(),
			Author:     rec.AuthorID,
			AuthorName: names[rec.AuthorID],
			Status:     rec.Status,
			CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339),
			IndexedAt:  rec.IndexedAt.UTC().Format(time.RFC3339),
			Provenance: string(rec.Provenance),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": items})
}

type submitRequest struct {
	TenantID   string `json:"tenantId"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
	Status     string `json:"status"`
}

func (s *Server) handleSubmitStatus(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" || req.Collection == "" || req.RKey == "" {
		http.Error(w, "tenantId, collection and rkey are required", http.StatusBadRequest)
		return
	}

	payload := schema.Payload{
		Status:    req.Status,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	key, err := s.coordinator.Submit(r.Context(), req.TenantID, req.Collection, req.RKey, payload)
	if err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": "validation failed", "field": verr.Field, "reason": verr.Reason,
			})
			return
		}
		var werr *publish.WriteError
		if errors.As(err, &werr) {
			s.log.Error("authoritative write failed", "key", werr.Key.String(), "err", werr.Err)
			http.Error(w, "upstream write failed", http.StatusBadGateway)
			return
		}
		s.log.Error("status submit failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"key": key.String()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.List(r.Context(), 1); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
