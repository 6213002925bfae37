package monitoring

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

// SnapshotSource is the read side of the supervisor
type SnapshotSource interface {
	Unit() unit.Name
	Snapshot() (unit.Snapshot, bool)
}

type SnapshotResponse struct {
	Unit           string        `json:"unit"`
	Known          bool          `json:"known"`
	Active         bool          `json:"active"`
	Enabled        bool          `json:"enabled"`
	ObservedAt     *time.Time    `json:"observed_at,omitempty"`
	Description    string        `json:"description,omitempty"`
	AllowedActions []unit.Action `json:"allowed_actions,omitempty"`
}

// NewRouter serves /metrics, /snapshot and /healthz. It is read-only: actions
// are never accepted over HTTP.
func NewRouter(source SnapshotSource, metrics *Metrics, logger logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := source.Snapshot(); !ok {
			http.Error(w, "unknown", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	r.Get("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, snapshotResponse(source))
	})

	if metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}

	return r
}

func snapshotResponse(source SnapshotSource) SnapshotResponse {
	name := source.Unit()
	response := SnapshotResponse{Unit: string(name)}

	snapshot, ok := source.Snapshot()
	if !ok {
		return response
	}

	observedAt := snapshot.ObservedAt
	response.Known = true
	response.Active = snapshot.Active
	response.Enabled = snapshot.Enabled
	response.ObservedAt = &observedAt
	response.Description = snapshot.Describe(name)
	response.AllowedActions = snapshot.AllowedActions()
	return response
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debugf("HTTP request, method: %s, path: %s, status: %d, duration: %v, request_id: %s",
				r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
		})
	}
}

// Server runs the router on a local address
type Server struct {
	address  string
	handler  http.Handler
	logger   logging.Logger
	server   *http.Server
	listener net.Listener
	mutex    sync.Mutex
	wg       sync.WaitGroup
}

func NewServer(address string, handler http.Handler, logger logging.Logger) *Server {
	return &Server{
		address: address,
		handler: handler,
		logger:  logger,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.server != nil {
		return errors.NewInternalError("metrics server already started", nil)
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return errors.NewIOError("failed to listen", err).WithContext("address", s.address)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Infof("Starting metrics server, address: %s", listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Metrics server failed, address: %s, error: %v", s.address, err)
		}
	}()
	return nil
}

// Address is the bound address, useful when listening on port 0
func (s *Server) Address() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	s.mutex.Lock()
	server := s.server
	s.mutex.Unlock()

	if server == nil {
		return nil
	}

	s.logger.Infof("Stopping metrics server, address: %s", s.address)
	err := server.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return errors.NewIOError("failed to stop metrics server", err)
	}
	return nil
}
