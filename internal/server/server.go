// Package server exposes the daemon's status API over HTTP: host and pool
// introspection, recent logs, and Prometheus metrics.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/videostream/internal/logging"
	"github.com/smazurov/videostream/internal/version"
	"github.com/smazurov/videostream/pkg/vsl"
)

type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	host       *vsl.Host
	logger     *slog.Logger
}

// NewServer creates the status API server for a running host.
func NewServer(host *vsl.Host) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("videostream API", version.Version)
	config.Info.Description = "Introspection API for the videostream frame-sharing daemon"
	config.Servers = []*huma.Server{}

	s := &Server{
		api:    humago.New(mux, config),
		mux:    mux,
		host:   host,
		logger: logging.GetLogger("api"),
	}

	mux.Handle("GET /metrics", promhttp.Handler())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Tags:        []string{"system"},
	}, func(ctx context.Context, _ *struct{}) (*HealthResponse, error) {
		return &HealthResponse{Body: HealthData{
			Status:  "ok",
			Version: version.Version,
		}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Host Status",
		Description: "Snapshot of the frame pool and connected subscribers.",
		Tags:        []string{"host"},
	}, func(ctx context.Context, _ *struct{}) (*StatusResponse, error) {
		st := s.host.Stats()
		return &StatusResponse{Body: StatusData{
			SocketPath: st.SocketPath,
			LastSerial: st.LastSerial,
			Slots:      st.Slots,
			Clients:    st.Clients,
		}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-frames",
		Method:      http.MethodGet,
		Path:        "/api/frames",
		Summary:     "Frame Pool",
		Description: "Current state of the host's buffer slots.",
		Tags:        []string{"host"},
	}, func(ctx context.Context, _ *struct{}) (*FramesResponse, error) {
		st := s.host.Stats()
		return &FramesResponse{Body: FramesData{Slots: st.Slots, Count: len(st.Slots)}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Recent log entries from the in-memory ring buffer.",
		Tags:        []string{"logs"},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"200" minimum:"1" maximum:"1000" doc:"Maximum entries to return"`
	}) (*LogsResponse, error) {
		entries := logging.Buffer().ReadAll()
		if input.Limit > 0 && len(entries) > input.Limit {
			entries = entries[len(entries)-input.Limit:]
		}
		out := make([]LogEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, LogEntry{
				Timestamp:  e.Timestamp.Format(time.RFC3339Nano),
				Level:      e.Level,
				Module:     e.Module,
				Message:    e.Message,
				Attributes: e.Attributes,
			})
		}
		return &LogsResponse{Body: LogsData{Entries: out, Count: len(out)}}, nil
	})
}

// Mux returns the underlying HTTP mux, mostly for tests.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// Start serves the API on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting status API", "addr", addr)
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
