package http

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/devgate/internal/gateway/core/model"
	"github.com/autopeer-io/devgate/pkg/log"
	"github.com/autopeer-io/devgate/pkg/options"
)

// Commander executes a single device command.
type Commander interface {
	Execute(ctx context.Context, req model.CommandRequest) (*model.CommandResponse, error)
}

// BatchRunner executes many commands and returns per-item results.
type BatchRunner interface {
	Execute(ctx context.Context, reqs []model.CommandRequest) ([]*model.CommandResponse, error)
}

// DeviceDirectory exposes presence state.
type DeviceDirectory interface {
	Get(deviceID string) (model.Device, bool)
	List() []model.Device
	OnlineCount() int
}

// AlertSender publishes audio alerts.
type AlertSender interface {
	SendAudioAlert(ctx context.Context, job model.AudioAlertJob) (*model.DispatchResult, error)
	SendPreEncodedAlert(ctx context.Context, job model.AudioAlertJob) (*model.DispatchResult, error)
}

// Deps are the collaborators behind the REST surface.
type Deps struct {
	Commands Commander
	Batch    BatchRunner
	Devices  DeviceDirectory
	Alerts   AlertSender

	// Ready reports whether the gateway can serve device traffic.
	Ready func() bool

	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer

	MaxUploadBytes int64
}

type Server struct {
	server  *http.Server
	options *options.HttpOptions
	deps    Deps
}

func NewServer(opts *options.HttpOptions, deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Ready == nil {
		deps.Ready = func() bool { return true }
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 10 << 20
	}

	s := &Server{options: opts, deps: deps}
	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.routes(),
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	}
	return s
}

// Handler returns the router. Tests drive it with httptest.
func (s *Server) Handler() http.Handler { return s.server.Handler }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(recoverMiddleware, logMiddleware)

	// Static segments first so "batch" is never taken for a device ID.
	r.HandleFunc("/devices/batch/execute", s.handleBatchExecute).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/execute", s.handleExecute).Methods(http.MethodPost)
	r.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}", s.handleGetDevice).Methods(http.MethodGet)

	r.HandleFunc("/audio/alert", s.handleAudioAlert).Methods(http.MethodPost)
	r.HandleFunc("/audio/opus", s.handleOpusAlert).Methods(http.MethodPost)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.deps.Ready() {
			http.Error(w, "mqtt not connected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found", ErrorKind: "not_found"})
	})
	return r
}

func (s *Server) Start(ctx context.Context) error {
	network := s.options.Network
	if network == "" {
		network = "tcp"
	}
	ln, err := net.Listen(network, s.server.Addr)
	if err != nil {
		return err
	}
	log.Info("Starting HTTP Server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
		defer cancel()
		log.Info("Shutting down HTTP Server")
		return s.server.Shutdown(shutdownCtx)
	}
}
