// Package api serves the soft node's read-only HTTP sync endpoint: a client
// polling for newly observed packets hits GET /api/softnode/sync?start=N and
// gets back up to 100 rows as JSON, ascending by sequence number.
//
// net/http's ServeMux is used directly rather than a router library: no
// third-party HTTP router appears anywhere in the retrieved example repos,
// and this package exposes exactly one route.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/soft-mesh/meshgate/internal/store"
)

const syncLimit = 100

// Server serves the softnode sync API backed by a Store.
type Server struct {
	store *store.Store
	log   *log.Logger
}

// NewServer builds a Server over st.
func NewServer(st *store.Store) *Server {
	return &Server{store: st, log: log.Default().WithPrefix("api")}
}

// Handler returns the HTTP handler for the sync API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/softnode/sync", s.handleSync)
	return mux
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var rows []store.Packet
	var err error

	if startParam := r.URL.Query().Get("start"); startParam != "" {
		start, parseErr := strconv.ParseInt(startParam, 10, 64)
		if parseErr != nil {
			http.Error(w, "invalid start parameter", http.StatusBadRequest)
			return
		}
		rows, err = s.store.QuerySince(r.Context(), start, syncLimit)
	} else {
		rows, err = s.store.QueryRecent(r.Context(), 24*time.Hour, syncLimit)
	}
	if err != nil {
		s.log.Error("sync query failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rows); err != nil {
		s.log.Error("failed to encode sync response", "err", err)
	}
}
