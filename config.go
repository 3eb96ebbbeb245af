package coedit

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultListen is the default TCP endpoint the server binds to.
	DefaultListen = ":8341"
	// DefaultMetricsListen is the default metrics endpoint (Prometheus scrape);
	// empty disables the metrics listener.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the default pprof debug listener (empty disables).
	DefaultPprofListen = ""
	// DefaultStorageRoot is the directory holding the shared file tree.
	DefaultStorageRoot = "coedit_files"
	// DefaultReservedNamespace is the top-level segment reserved for admins.
	DefaultReservedNamespace = "admin"
	// DefaultExecTimeout bounds each compile and run subprocess.
	DefaultExecTimeout = 5 * time.Second
	// DefaultExecMaxOutputBytes caps captured subprocess output.
	DefaultExecMaxOutputBytes = 64 << 10
	// DefaultJavaCompiler is the javac binary resolved through PATH.
	DefaultJavaCompiler = "javac"
	// DefaultJavaRuntime is the java binary resolved through PATH.
	DefaultJavaRuntime = "java"
	// DefaultPython is the python interpreter resolved through PATH.
	DefaultPython = "python"
	// DefaultSubscriberBuffer is the per-connection outbound queue depth;
	// connections that fall this far behind are dropped.
	DefaultSubscriberBuffer = 64
	// DefaultShutdownTimeout caps graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultConfigFileName is the config file searched for when --config is omitted.
	DefaultConfigFileName = "config.yaml"
)

// Config holds every tunable of a coedit server.
type Config struct {
	// Listen is the TCP address the API and WebSocket listener binds to.
	Listen string
	// MetricsListen exposes Prometheus metrics when non-empty.
	MetricsListen string
	// PprofListen exposes net/http/pprof when non-empty.
	PprofListen string
	// OTLPEndpoint enables OTLP trace export when non-empty
	// (scheme selects grpc or http transport).
	OTLPEndpoint string

	// StorageRoot is the directory holding the shared file tree; created when
	// missing and seeded on first start.
	StorageRoot string
	// ReservedNamespace is the top-level directory only admins may touch.
	ReservedNamespace string
	// SeedManifest optionally points at a YAML manifest of files written into
	// the storage root at startup. Empty selects the built-in welcome seed.
	SeedManifest string
	// WatchWorkspace enables the fsnotify watcher that evicts cached content
	// and broadcasts a file-list refresh when the tree changes on disk behind
	// the server's back.
	WatchWorkspace bool

	// ExecTimeout bounds each compile and run subprocess.
	ExecTimeout time.Duration
	// ExecMaxOutputBytes caps captured subprocess output; older output is
	// discarded once the cap is reached.
	ExecMaxOutputBytes int64
	// JavaCompiler, JavaRuntime and Python name the external binaries used by
	// the execution sandbox; resolved through PATH.
	JavaCompiler string
	JavaRuntime  string
	Python       string

	// MaxConns caps concurrently accepted connections (0 = unlimited).
	MaxConns int
	// SubscriberBuffer is the per-WebSocket outbound queue depth.
	SubscriberBuffer int
	// ShutdownTimeout caps graceful shutdown.
	ShutdownTimeout time.Duration
}

// Validate applies defaults and sanity-checks the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = DefaultListen
	}
	if strings.TrimSpace(c.StorageRoot) == "" {
		c.StorageRoot = DefaultStorageRoot
	}
	c.ReservedNamespace = strings.Trim(strings.TrimSpace(c.ReservedNamespace), "/")
	if c.ReservedNamespace == "" {
		c.ReservedNamespace = DefaultReservedNamespace
	}
	if strings.ContainsAny(c.ReservedNamespace, "/\\") {
		return fmt.Errorf("config: reserved namespace must be a single path segment")
	}
	if c.ExecTimeout < 0 {
		return fmt.Errorf("config: exec timeout must be >= 0")
	}
	if c.ExecTimeout == 0 {
		c.ExecTimeout = DefaultExecTimeout
	}
	if c.ExecMaxOutputBytes < 0 {
		return fmt.Errorf("config: exec max output bytes must be >= 0")
	}
	if c.ExecMaxOutputBytes == 0 {
		c.ExecMaxOutputBytes = DefaultExecMaxOutputBytes
	}
	if c.JavaCompiler == "" {
		c.JavaCompiler = DefaultJavaCompiler
	}
	if c.JavaRuntime == "" {
		c.JavaRuntime = DefaultJavaRuntime
	}
	if c.Python == "" {
		c.Python = DefaultPython
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("config: max conns must be >= 0")
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return nil
}
