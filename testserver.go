package coedit

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"
)

// TestServer wraps a running coedit.Server with convenient handles for tests.
type TestServer struct {
	Server   *Server
	BaseURL  string
	Listener net.Addr
	Config   Config

	stop func(context.Context) error
}

type testingWriter struct {
	t  testing.TB
	mu sync.Mutex
	// closed guards against writes after the associated test has finished.
	closed bool
}

func (w *testingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return len(p), nil
	}
	lines := bytes.Split(p, []byte{'\n'})
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		w.t.Helper()
		func(entry string) {
			defer func() {
				if r := recover(); r != nil {
					msg := fmt.Sprint(r)
					if strings.Contains(msg, "Log in goroutine after") {
						return
					}
					if strings.Contains(msg, "Log in goroutine during concurrent Cleanups") {
						return
					}
					panic(r)
				}
			}()
			w.t.Log(entry)
		}(string(line))
	}
	w.mu.Unlock()
	return len(p), nil
}

func (w *testingWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// NewTestingLogger creates a pslog logger that writes through testing.TB.
func NewTestingLogger(t testing.TB, level pslog.Level) pslog.Logger {
	writer := &testingWriter{t: t}
	t.Cleanup(writer.close)
	logger := pslog.NewStructured(writer)
	if level != pslog.NoLevel {
		logger = logger.LogLevel(level)
	}
	return logger.With("app", "testserver")
}

// Stop shuts down the server using the provided context.
func (ts *TestServer) Stop(ctx context.Context) error {
	if ts == nil || ts.stop == nil {
		return nil
	}
	return ts.stop(ctx)
}

// URL returns the base URL clients should use to reach the server.
func (ts *TestServer) URL() string {
	if ts == nil {
		return ""
	}
	return ts.BaseURL
}

type testServerOptions struct {
	cfg          Config
	mutators     []func(*Config)
	logger       pslog.Logger
	clock        func() time.Time
	startTimeout time.Duration
	testTB       testing.TB
	testLogLevel pslog.Level
}

// TestServerOption customises NewTestServer/StartTestServer behaviour.
type TestServerOption func(*testServerOptions)

// WithTestConfig provides an explicit Config to use. Missing fields will be
// defaulted during validation.
func WithTestConfig(cfg Config) TestServerOption {
	return func(o *testServerOptions) {
		o.cfg = cfg
	}
}

// WithTestConfigFunc applies a mutation to the server configuration before start.
func WithTestConfigFunc(fn func(*Config)) TestServerOption {
	return func(o *testServerOptions) {
		if fn != nil {
			o.mutators = append(o.mutators, fn)
		}
	}
}

// WithTestLogger supplies a custom logger.
func WithTestLogger(logger pslog.Logger) TestServerOption {
	return func(o *testServerOptions) {
		o.logger = logger
	}
}

// WithTestClock injects a custom time source (used to stamp chat messages).
func WithTestClock(now func() time.Time) TestServerOption {
	return func(o *testServerOptions) {
		o.clock = now
	}
}

// NewTestServer starts a server bound to an ephemeral localhost port and
// waits until it accepts connections.
func NewTestServer(ctx context.Context, opts ...TestServerOption) (*TestServer, error) {
	options := testServerOptions{
		cfg:          Config{Listen: "127.0.0.1:0"},
		startTimeout: 5 * time.Second,
		testLogLevel: pslog.DebugLevel,
	}
	for _, opt := range opts {
		opt(&options)
	}
	cfg := options.cfg
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:0"
	}
	for _, mut := range options.mutators {
		mut(&cfg)
	}

	logger := options.logger
	if logger == nil {
		if options.testTB != nil {
			logger = NewTestingLogger(options.testTB, options.testLogLevel)
		} else {
			logger = pslog.NoopLogger()
		}
	}

	srvOpts := []Option{WithLogger(logger)}
	if options.clock != nil {
		srvOpts = append(srvOpts, WithClock(options.clock))
	}
	srv, err := NewServer(cfg, srvOpts...)
	if err != nil {
		return nil, err
	}
	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- srv.Start()
	}()

	readyCtx := ctx
	if readyCtx == nil {
		readyCtx = context.Background()
	}
	readyCtx, cancel := context.WithTimeout(readyCtx, options.startTimeout)
	defer cancel()
	if err := srv.WaitUntilReady(readyCtx); err != nil {
		_ = srv.Close()
		if serveErr := <-serveErrCh; serveErr != nil {
			return nil, serveErr
		}
		return nil, fmt.Errorf("test server start: %w", err)
	}

	addr := srv.ListenerAddr()
	if addr == nil {
		_ = srv.Close()
		return nil, fmt.Errorf("test server: listener not initialised")
	}
	stop := func(stopCtx context.Context) error {
		if err := srv.Shutdown(stopCtx); err != nil {
			return err
		}
		return <-serveErrCh
	}

	return &TestServer{
		Server:   srv,
		BaseURL:  "http://" + addr.String(),
		Listener: addr,
		Config:   srv.cfg,
		stop:     stop,
	}, nil
}

// StartTestServer is a convenience wrapper that fails the test on error and registers cleanup.
func StartTestServer(t testing.TB, opts ...TestServerOption) *TestServer {
	t.Helper()
	all := append(opts, func(o *testServerOptions) {
		o.testTB = t
		o.mutators = append(o.mutators, func(cfg *Config) {
			if cfg.StorageRoot == "" {
				cfg.StorageRoot = t.TempDir()
			}
		})
	})
	ts, err := NewTestServer(context.Background(), all...)
	if err != nil {
		t.Fatalf("start test server: %v", err)
	}
	t.Cleanup(func() {
		if err := ts.Stop(context.Background()); err != nil {
			t.Fatalf("stop test server: %v", err)
		}
	})
	return ts
}
