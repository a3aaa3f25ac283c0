package webhook

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/pushdeploy/internal/events"
	"github.com/mattjoyce/pushdeploy/internal/history"
)

// handleListDeployments handles GET /deployments?limit=N.
func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	deployments, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list deployments", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list deployments")
		return
	}
	if deployments == nil {
		deployments = []*history.Deployment{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"deployments": deployments})
}

// handleGetDeployment handles GET /deployments/{id}.
func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.history.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "deployment not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get deployment", "deployment_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get deployment")
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// handleEvents streams hub events as Server-Sent Events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := s.hub.Subscribe()
	defer cancel()

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	for _, ev := range s.hub.SnapshotSince(lastID) {
		if err := writeSSE(w, ev); err != nil {
			return
		}
		lastID = ev.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= lastID {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			lastID = ev.ID
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	if _, err := fmt.Fprintf(w, "id: %d\n", ev.ID); err != nil {
		return err
	}
	if ev.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
			return err
		}
	}
	// Payloads are single-line JSON.
	if _, err := fmt.Fprintf(w, "data: %s\n\n", ev.Data); err != nil {
		return err
	}
	return nil
}
