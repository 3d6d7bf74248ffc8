// Package web serves the bridge's HTTP surface: the query API, health,
// the websocket push channel and Prometheus metrics.
package web

import (
	"context"
	"net"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sweeney/telemetry-bridge/internal/logic"
	"github.com/sweeney/telemetry-bridge/internal/query"
	"github.com/sweeney/telemetry-bridge/internal/status"
)

// Querier answers the query API.
type Querier interface {
	History(ctx context.Context, minutes int) ([]query.HistoryPoint, error)
	Stats(ctx context.Context) (*query.Summary, error)
}

// StateSource returns the current Control State.
type StateSource interface {
	State() logic.State
}

// Deps are the components the server exposes. WS and Metrics may be nil.
type Deps struct {
	Query   Querier
	State   StateSource
	Tracker *status.Tracker
	WS      http.Handler
	Metrics http.Handler
	Logger  *zap.Logger
}

// Server is the HTTP server.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *zap.Logger
}

// New creates a Server listening on addr.
func New(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server. Hijacked websocket
// connections are not tracked and must be closed by the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.deps.WS != nil {
		r.Handle("/ws", s.deps.WS)
	}
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics).Methods(http.MethodGet)
	}

	stdlog := zap.NewStdLog(s.logger.Named("http"))
	var h http.Handler = r
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
	)(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(stdlog))(h)
	h = handlers.LoggingHandler(stdlog.Writer(), h)
	return h
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	minutes := query.ClampMinutes(r.URL.Query().Get("minutes"))
	points, err := s.deps.Query.History(r.Context(), minutes)
	if err != nil {
		s.logger.Error("history query failed", zap.Int("minutes", minutes), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorJSON{Error: "history query failed", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Query.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorJSON{Error: "stats query failed"})
		return
	}
	if sum == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatHealth(s.deps.Tracker.Snapshot(), s.deps.State.State()))
}
