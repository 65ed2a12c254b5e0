package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/log"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/metrics"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

// DefaultCompletedLimit is the number of completion records /v1/completed
// returns without a limit parameter
const DefaultCompletedLimit = 50

// QueueReader is the read side of the job queue
type QueueReader interface {
	Pending() ([]types.QueueEntry, error)
	Running() ([]types.QueueEntry, error)
	Completed(n int) ([]types.CompletionRecord, error)
}

// HistoryReader lists per-job run statistics
type HistoryReader interface {
	ListStats() ([]*types.RunStats, error)
}

// Server exposes health, metrics and a read-only view of the queue over HTTP
type Server struct {
	registry *metrics.Registry
	queue    QueueReader
	history  HistoryReader
	mux      *http.ServeMux
	logger   zerolog.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a status server. queue and history may be nil, in which
// case their endpoints answer 503.
func NewServer(registry *metrics.Registry, queue QueueReader, history HistoryReader) *Server {
	if registry == nil {
		registry = metrics.DefaultRegistry()
	}
	s := &Server{
		registry: registry,
		queue:    queue,
		history:  history,
		mux:      http.NewServeMux(),
		logger:   log.WithComponent("api"),
	}

	s.mux.Handle("/health", readOnly(registry.HealthHandler()))
	s.mux.Handle("/ready", readOnly(registry.ReadyHandler()))
	s.mux.Handle("/live", readOnly(registry.LivenessHandler()))
	s.mux.Handle("/metrics", readOnly(metrics.Handler()))
	s.mux.Handle("/v1/queue", readOnly(http.HandlerFunc(s.queueHandler)))
	s.mux.Handle("/v1/completed", readOnly(http.HandlerFunc(s.completedHandler)))
	s.mux.Handle("/v1/history", readOnly(http.HandlerFunc(s.historyHandler)))
	return s
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on addr and serves until Shutdown is called
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown is called
func (s *Server) Serve(ln net.Listener) error {
	server := &http.Server{
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Status API listening")
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// QueueEntry is the JSON view of a queue entry
type QueueEntry struct {
	PID        int       `json:"pid"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Target     string    `json:"target"`
	Class      string    `json:"class"`
	Alive      *bool     `json:"alive,omitempty"`
}

// QueueResponse is the body of /v1/queue
type QueueResponse struct {
	Pending []QueueEntry `json:"pending"`
	Running []QueueEntry `json:"running"`
}

// Completion is the JSON view of a completion record
type Completion struct {
	PID        int       `json:"pid"`
	FinishedAt time.Time `json:"finished_at"`
	Target     string    `json:"target"`
	Class      string    `json:"class"`
	Outcome    string    `json:"outcome"`
}

// ErrorResponse is returned for failed requests
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) queueHandler(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "queue not available"})
		return
	}
	pending, err := s.queue.Pending()
	if err != nil {
		s.fail(w, err)
		return
	}
	running, err := s.queue.Running()
	if err != nil {
		s.fail(w, err)
		return
	}

	var liveness interface{ Alive(types.QueueEntry) bool }
	if l, ok := s.queue.(interface{ Alive(types.QueueEntry) bool }); ok {
		liveness = l
	}
	writeJSON(w, http.StatusOK, QueueResponse{
		Pending: entriesView(pending, liveness),
		Running: entriesView(running, liveness),
	})
}

func entriesView(entries []types.QueueEntry, liveness interface{ Alive(types.QueueEntry) bool }) []QueueEntry {
	out := make([]QueueEntry, 0, len(entries))
	for _, e := range entries {
		v := QueueEntry{PID: e.PID, EnqueuedAt: e.EnqueuedAt, Target: e.Target, Class: string(e.Class)}
		if liveness != nil {
			alive := liveness.Alive(e)
			v.Alive = &alive
		}
		out = append(out, v)
	}
	return out
}

func (s *Server) completedHandler(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "queue not available"})
		return
	}
	limit := DefaultCompletedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	records, err := s.queue.Completed(limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]Completion, 0, len(records))
	for _, rec := range records {
		out = append(out, Completion{
			PID:        rec.PID,
			FinishedAt: rec.FinishedAt,
			Target:     rec.Target,
			Class:      string(rec.Class),
			Outcome:    string(rec.Outcome),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "history not available"})
		return
	}
	stats, err := s.history.ListStats()
	if err != nil {
		s.fail(w, err)
		return
	}
	if stats == nil {
		stats = []*types.RunStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Msg("Status request failed")
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
}
