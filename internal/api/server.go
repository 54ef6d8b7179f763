// Package api serves the primary process's side of the store channel over
// loopback HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/prefd/internal/ipc"
	"github.com/kalambet/prefd/internal/journal"
	"github.com/kalambet/prefd/internal/persistent"
)

// keepaliveInterval spaces comment lines on idle event streams.
var keepaliveInterval = 15 * time.Second

// HistoryReader reads the change journal.
type HistoryReader interface {
	Recent(ctx context.Context, store string, limit int) ([]journal.Entry, error)
}

// Deps holds what the handler serves.
type Deps struct {
	Registry *persistent.Registry
	Hub      *ipc.Hub
	History  HistoryReader // optional; /history returns 404 when nil
	Metrics  http.Handler  // optional
	Token    string
	Logger   *slog.Logger
}

// NewHandler builds the primary's router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/rpc/"+persistent.UpdateCall, handleUpdate(deps))
		r.Get("/persistent", handleListStores(deps))
		r.Get("/persistent/{name}", handleSnapshot(deps))
		r.Get("/events", handleEvents(deps))
		r.Get("/history", handleHistory(deps))
	})
	return r
}

func handleUpdate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, ipc.MaxUpdateSize)
		defer r.Body.Close()

		var req persistent.UpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Store == "" || req.Key == "" || len(req.Value) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "store, key and value are required")
			return
		}

		if err := deps.Registry.HandleUpdate(r.Context(), req); err != nil {
			deps.Logger.Warn("update-persistent failed", "store", req.Store, "key", req.Key, "origin", req.Origin, "error", err)
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleListStores(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := []string{}
		for _, name := range deps.Registry.Names() {
			if _, ok := deps.Registry.Lookup(name); ok {
				names = append(names, name)
			}
		}
		writeJSON(w, http.StatusOK, names)
	}
}

func handleSnapshot(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		s, ok := deps.Registry.Lookup(name)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "store %q not found", name)
			return
		}
		writeJSON(w, http.StatusOK, s.Data())
	}
}

func handleEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming unsupported")
			return
		}

		id, ch := deps.Hub.Subscribe(r.Context())
		deps.Logger.Debug("secondary subscribed", "subscriber", id)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()

		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case n, ok := <-ch:
				if !ok {
					deps.Logger.Debug("subscriber dropped", "subscriber", id)
					return
				}
				if err := ipc.WriteEvent(w, n); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			}
		}
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "not_found_error", "history is disabled")
			return
		}
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", v)
				return
			}
			limit = min(n, 500)
		}
		entries, err := deps.History.Recent(r.Context(), r.URL.Query().Get("store"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading history: %v", err)
			return
		}
		if entries == nil {
			entries = []journal.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, persistent.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, persistent.ErrUnknownKey), errors.Is(err, persistent.ErrInvalidValue):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, persistent.ErrPersistence):
		httpError(w, http.StatusInternalServerError, "persistence_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
