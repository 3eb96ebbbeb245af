// Package sandbox runs untrusted user programs through external compilers
// and interpreters. Every invocation gets a fresh temporary workspace, a hard
// wall-clock timeout, and a capped combined stdout+stderr capture; failures
// of any kind surface as a Result, never as a panic or a hung caller.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/armon/circbuf"

	"pkt.systems/coedit/internal/loggingutil"
	"pkt.systems/pslog"
)

const (
	// DefaultTimeout bounds each subprocess invocation (compile and run are
	// bounded separately).
	DefaultTimeout = 5 * time.Second
	// DefaultMaxOutputBytes caps the captured combined output per subprocess.
	DefaultMaxOutputBytes = 64 << 10

	// UnsupportedMessage is returned verbatim for unknown language tags.
	UnsupportedMessage = "Language not supported by local engine."

	compileErrorPrefix = "COMPILE ERROR:\n"
	defaultJavaClass   = "Main"
)

var javaClassPattern = regexp.MustCompile(`public\s+class\s+([a-zA-Z0-9_]+)`)

// Config captures the engine tunables. Zero values select the defaults.
type Config struct {
	Timeout        time.Duration
	MaxOutputBytes int64
	// JavaCompiler, JavaRuntime and Python name the external binaries; they
	// are looked up through PATH.
	JavaCompiler string
	JavaRuntime  string
	Python       string
	Logger       pslog.Logger
}

// Result is the outcome of one execution job.
type Result struct {
	// Output is the interleaved stdout+stderr text, possibly truncated to the
	// configured cap.
	Output string
	// Success is false on compile failure, runtime failure, timeout, spawn
	// failure or unsupported language.
	Success bool
}

// Engine executes run requests. Engines are stateless apart from their
// configuration and safe for concurrent use.
type Engine struct {
	timeout  time.Duration
	maxBytes int64
	javac    string
	java     string
	python   string
	logger   pslog.Logger
}

// New returns an engine with cfg applied over the defaults.
func New(cfg Config) *Engine {
	e := &Engine{
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxOutputBytes,
		javac:    cfg.JavaCompiler,
		java:     cfg.JavaRuntime,
		python:   cfg.Python,
		logger:   loggingutil.WithSubsystem(cfg.Logger, "sandbox"),
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.maxBytes <= 0 {
		e.maxBytes = DefaultMaxOutputBytes
	}
	if e.javac == "" {
		e.javac = "javac"
	}
	if e.java == "" {
		e.java = "java"
	}
	if e.python == "" {
		e.python = "python"
	}
	return e
}

// Run executes source under the pipeline selected by language. Unrecognised
// language tags return the fixed unsupported message without spawning any
// process. Orchestration errors (I/O, spawn failures) become failure results
// carrying a diagnostic; they never propagate.
func (e *Engine) Run(ctx context.Context, language, source string) Result {
	started := time.Now()
	e.logger.Info("run.begin", "language", language, "source_bytes", len(source))

	var res Result
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "java":
		res = e.runJava(ctx, source)
	case "python":
		res = e.runPython(ctx, source)
	default:
		res = Result{Output: UnsupportedMessage}
	}

	e.logger.Info("run.complete",
		"language", language,
		"success", res.Success,
		"output_bytes", len(res.Output),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res
}

// runJava compiles the source with javac and, on success, runs the compiled
// class. The entry-point class name is extracted from the source, falling
// back to Main.
func (e *Engine) runJava(ctx context.Context, source string) Result {
	className := defaultJavaClass
	if m := javaClassPattern.FindStringSubmatch(source); m != nil {
		className = m[1]
	}

	dir, cleanup, err := e.tempWorkspace()
	if err != nil {
		return failure(err)
	}
	defer cleanup()

	sourceFile := filepath.Join(dir, className+".java")
	if err := os.WriteFile(sourceFile, []byte(source), 0o600); err != nil {
		return failure(fmt.Errorf("materialize source: %w", err))
	}

	out, err := e.capture(ctx, e.javac, sourceFile)
	if err != nil {
		e.logger.Debug("run.compile_failed", "class", className)
		return Result{Output: compileErrorPrefix + out}
	}

	out, err = e.capture(ctx, e.java, "-cp", dir, className)
	return Result{Output: out, Success: err == nil}
}

// runPython materializes the source into a temporary .py file and invokes the
// interpreter directly.
func (e *Engine) runPython(ctx context.Context, source string) Result {
	dir, cleanup, err := e.tempWorkspace()
	if err != nil {
		return failure(err)
	}
	defer cleanup()

	sourceFile := filepath.Join(dir, "script.py")
	if err := os.WriteFile(sourceFile, []byte(source), 0o600); err != nil {
		return failure(fmt.Errorf("materialize source: %w", err))
	}

	out, err := e.capture(ctx, e.python, sourceFile)
	return Result{Output: out, Success: err == nil}
}

func (e *Engine) tempWorkspace() (string, func(), error) {
	dir, err := os.MkdirTemp("", "coedit-exec-*")
	if err != nil {
		return "", nil, fmt.Errorf("create workspace: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("run.cleanup_failed", "dir", dir, "error", err)
		}
	}
	return dir, cleanup, nil
}

// capture runs one subprocess with the engine timeout, stderr folded into
// stdout, and the combined stream captured through a capped circular buffer.
// The returned error is non-nil on non-zero exit, spawn failure or timeout;
// the captured output is returned in all cases.
func (e *Engine) capture(ctx context.Context, name string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	buf, err := circbuf.NewBuffer(e.maxBytes)
	if err != nil {
		return "", fmt.Errorf("allocate output buffer: %w", err)
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdout = buf
	cmd.Stderr = buf
	cmd.WaitDelay = time.Second
	configureProcAttrs(cmd)

	runErr := cmd.Run()
	output := buf.String()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		e.logger.Warn("run.timeout", "cmd", name, "timeout", e.timeout)
		return output + fmt.Sprintf("\n[terminated: exceeded %s limit]", e.timeout), context.DeadlineExceeded
	}
	if runErr != nil {
		return output, runErr
	}
	return output, nil
}

func failure(err error) Result {
	return Result{Output: "Local Execution Error: " + err.Error()}
}
