package coedit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"

	"pkt.systems/coedit/api"
	"pkt.systems/coedit/internal/editor"
	"pkt.systems/coedit/internal/hub"
	"pkt.systems/coedit/internal/httpapi"
	"pkt.systems/coedit/internal/locks"
	"pkt.systems/coedit/internal/registry"
	"pkt.systems/coedit/internal/sandbox"
	"pkt.systems/coedit/internal/workspace"
	"pkt.systems/pslog"
)

// Server wraps the HTTP server, workspace store, and supporting components.
type Server struct {
	cfg       Config
	logger    pslog.Logger
	workspace *workspace.Store
	hub       *hub.Hub
	service   *editor.Service
	handler   *httpapi.Handler
	httpSrv   *http.Server
	listener  net.Listener
	watcher   *workspace.Watcher
	telemetry *telemetryBundle

	mu           sync.Mutex
	shutdown     bool
	lastServeErr error
	watcherDone  sync.WaitGroup
	readyOnce    sync.Once
	readyCh      chan struct{}
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger       pslog.Logger
	Clock        func() time.Time
	OTLPEndpoint string
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithClock injects a custom time source (used to stamp chat messages).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.Clock = now
	}
}

// WithOTLPEndpoint overrides the OTLP collector endpoint used for telemetry.
func WithOTLPEndpoint(endpoint string) Option {
	return func(o *options) {
		o.OTLPEndpoint = endpoint
	}
}

// NewServer constructs a coedit server according to cfg.
// Example:
//
//	cfg := coedit.Config{Listen: ":8341", StorageRoot: "coedit_files"}
//	srv, err := coedit.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}

	var telemetry *telemetryBundle
	otlpEndpoint := cfg.OTLPEndpoint
	if o.OTLPEndpoint != "" {
		otlpEndpoint = o.OTLPEndpoint
	}
	if otlpEndpoint != "" || cfg.MetricsListen != "" || cfg.PprofListen != "" {
		var err error
		telemetry, err = setupTelemetry(context.Background(), telemetryConfig{
			OTLPEndpoint:  otlpEndpoint,
			MetricsListen: cfg.MetricsListen,
			PprofListen:   cfg.PprofListen,
		}, logger.With("svc", "telemetry"))
		if err != nil {
			return nil, err
		}
	}

	ws, err := workspace.New(workspace.Config{
		Root:     cfg.StorageRoot,
		Reserved: cfg.ReservedNamespace,
		Logger:   logger,
	})
	if err != nil {
		return nil, shutdownOnInitError(telemetry, err)
	}
	seed := workspace.DefaultSeed
	if cfg.SeedManifest != "" {
		seed, err = workspace.LoadSeedManifest(cfg.SeedManifest)
		if err != nil {
			return nil, shutdownOnInitError(telemetry, err)
		}
	}
	if err := ws.Seed(seed); err != nil {
		return nil, shutdownOnInitError(telemetry, err)
	}

	var hubOpts []hub.Option
	if o.Clock != nil {
		hubOpts = append(hubOpts, hub.WithClock(o.Clock))
	}
	broadcast := hub.New(logger, hubOpts...)

	svc := editor.New(editor.Config{
		Workspace: ws,
		Locks:     locks.NewTable(cfg.ReservedNamespace),
		Registry:  registry.New(),
		Hub:       broadcast,
		Sandbox: sandbox.New(sandbox.Config{
			Timeout:        cfg.ExecTimeout,
			MaxOutputBytes: cfg.ExecMaxOutputBytes,
			JavaCompiler:   cfg.JavaCompiler,
			JavaRuntime:    cfg.JavaRuntime,
			Python:         cfg.Python,
			Logger:         logger,
		}),
		Logger: logger,
	})

	handler := httpapi.New(httpapi.Config{
		Service:          svc,
		Hub:              broadcast,
		Logger:           logger,
		SubscriberBuffer: cfg.SubscriberBuffer,
	})

	var root http.Handler = handler
	if telemetry != nil && telemetry.tracing {
		root = otelhttp.NewHandler(root, "coedit.http",
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents))
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		workspace: ws,
		hub:       broadcast,
		service:   svc,
		handler:   handler,
		telemetry: telemetry,
		readyCh:   make(chan struct{}),
		httpSrv: &http.Server{
			Handler:           root,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	return s, nil
}

func shutdownOnInitError(telemetry *telemetryBundle, err error) error {
	if telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = telemetry.Shutdown(ctx)
		cancel()
	}
	return err
}

// Handler exposes the HTTP handler for embedding in custom servers.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving requests and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s): %w", s.cfg.Listen, err)
	}
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	s.listener = ln
	if s.cfg.WatchWorkspace {
		if err := s.startWatcher(); err != nil {
			_ = ln.Close()
			return err
		}
	}
	s.signalReady()
	s.logger.Info("listening", "address", ln.Addr().String(), "storage", s.workspace.Root())
	serveErr := s.httpSrv.Serve(ln)
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// startWatcher begins observing the storage root and republishes external
// changes as a file-list refresh hint on the files topic.
func (s *Server) startWatcher() error {
	w, err := s.workspace.Watch()
	if err != nil {
		return fmt.Errorf("workspace watcher: %w", err)
	}
	s.watcher = w
	s.watcherDone.Add(1)
	go func() {
		defer s.watcherDone.Done()
		for range w.Events() {
			s.hub.Publish(api.TopicFiles, api.FileRefresh)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server and returns any fatal serve/shutdown
// error. The returned error will be nil for clean shutdowns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if s.watcher != nil {
		_ = s.watcher.Close()
		s.watcherDone.Wait()
		s.watcher = nil
	}
	s.hub.Close()
	if l := s.listener; l != nil {
		_ = l.Close()
		s.listener = nil
	}
	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			return err
		}
		s.telemetry = nil
	}
	if err := s.LastServeError(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until the server listener is initialized or context ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound listener address once available.
func (s *Server) ListenerAddr() net.Addr {
	if l := s.listener; l != nil {
		return l.Addr()
	}
	return nil
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	s.lastServeErr = err
	s.mu.Unlock()
}

// LastServeError reports the terminal error from Serve, if any.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastServeErr != nil && !errors.Is(s.lastServeErr, http.ErrServerClosed) {
		return s.lastServeErr
	}
	return nil
}
