package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/coedit"
	"pkt.systems/coedit/internal/loggingutil"
	"pkt.systems/pslog"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("COEDIT_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "coedit")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if err != context.Canceled {
			loggingutil.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "coedit",
		Short:         "coedit is a single-binary collaborative editing server with shared files, presence, chat, and sandboxed program execution",
		SilenceErrors: true,
		Example: `
  # serve the default storage root on :8341
  coedit

  # explicit storage root and Prometheus metrics
  coedit --storage-root /var/lib/coedit --metrics-listen :9090

  # environment configuration
  COEDIT_LISTEN=:8080 COEDIT_STORAGE_ROOT=/srv/coedit coedit
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := loggingutil.WithSubsystem(logger, "cli.root")
			ctx := cmd.Context()
			cmd.SilenceUsage = true

			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}

			var cfg coedit.Config
			if err := bindConfig(&cfg); err != nil {
				return err
			}

			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel == "" {
				logLevel = "info"
			}
			if level, ok := pslog.ParseLevel(logLevel); ok {
				logger = logger.LogLevel(level)
				cliLogger = loggingutil.WithSubsystem(logger, "cli.root")
			}

			loggingutil.WithSubsystem(logger, "server.lifecycle.init").Info(
				"welcome to coedit",
				"pid", os.Getpid(),
				"uid", os.Getuid(),
				"gid", os.Getgid(),
			)

			server, err := coedit.NewServer(cfg, coedit.WithLogger(logger))
			if err != nil {
				return err
			}

			shutdownTimeout := cfg.ShutdownTimeout
			if shutdownTimeout <= 0 {
				shutdownTimeout = coedit.DefaultShutdownTimeout
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					cliLogger.Error("shutdown failed", "error", err)
				}
			}()

			err = server.Start()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to ./"+coedit.DefaultConfigFileName+" when present)")

	flags := cmd.Flags()
	flags.String("listen", coedit.DefaultListen, "listen address")
	flags.String("metrics-listen", coedit.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables)")
	flags.String("pprof-listen", coedit.DefaultPprofListen, "pprof listen address (debug/pprof endpoints; empty disables)")
	flags.String("storage-root", coedit.DefaultStorageRoot, "directory holding the shared file tree")
	flags.String("reserved-namespace", coedit.DefaultReservedNamespace, "top-level directory reserved for the ADMIN role")
	flags.String("seed-manifest", "", "YAML manifest of files seeded into the storage root at startup")
	flags.Bool("watch", false, "watch the storage root and refresh clients on external changes")
	flags.Duration("exec-timeout", coedit.DefaultExecTimeout, "time limit per compile/run subprocess")
	flags.String("exec-max-output", humanizeBytes(coedit.DefaultExecMaxOutputBytes), "maximum captured subprocess output")
	flags.String("java-compiler", coedit.DefaultJavaCompiler, "java compiler binary")
	flags.String("java-runtime", coedit.DefaultJavaRuntime, "java runtime binary")
	flags.String("python", coedit.DefaultPython, "python interpreter binary")
	flags.Int("max-conns", 0, "maximum concurrently accepted connections (0 = unlimited)")
	flags.Int("subscriber-buffer", coedit.DefaultSubscriberBuffer, "queued outbound frames per WebSocket before the connection is dropped")
	flags.Duration("shutdown-timeout", coedit.DefaultShutdownTimeout, "overall graceful shutdown timeout")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint (e.g. grpc://localhost:4317)")
	flags.String("log-level", "info", "log level (trace|debug|info|warn|error|none)")

	bindFlag := func(name string) {
		flag := flags.Lookup(name)
		if flag == nil {
			flag = persistentFlags.Lookup(name)
		}
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("COEDIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	for _, name := range []string{
		"config",
		"listen", "metrics-listen", "pprof-listen",
		"storage-root", "reserved-namespace", "seed-manifest", "watch",
		"exec-timeout", "exec-max-output", "java-compiler", "java-runtime", "python",
		"max-conns", "subscriber-buffer", "shutdown-timeout",
		"otlp-endpoint", "log-level",
	} {
		bindFlag(name)
	}

	cmd.AddCommand(newVersionCommand())
	return cmd
}

func bindConfig(cfg *coedit.Config) error {
	cfg.Listen = viper.GetString("listen")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.PprofListen = viper.GetString("pprof-listen")
	cfg.StorageRoot = viper.GetString("storage-root")
	cfg.ReservedNamespace = viper.GetString("reserved-namespace")
	cfg.SeedManifest = viper.GetString("seed-manifest")
	cfg.WatchWorkspace = viper.GetBool("watch")
	cfg.ExecTimeout = viper.GetDuration("exec-timeout")
	if maxOutput := viper.GetString("exec-max-output"); maxOutput != "" {
		size, err := humanize.ParseBytes(maxOutput)
		if err != nil {
			return fmt.Errorf("parse exec-max-output: %w", err)
		}
		cfg.ExecMaxOutputBytes = int64(size)
	}
	cfg.JavaCompiler = viper.GetString("java-compiler")
	cfg.JavaRuntime = viper.GetString("java-runtime")
	cfg.Python = viper.GetString("python")
	cfg.MaxConns = viper.GetInt("max-conns")
	cfg.SubscriberBuffer = viper.GetInt("subscriber-buffer")
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	cfg.OTLPEndpoint = viper.GetString("otlp-endpoint")
	return nil
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""
	if cfgPath == "" {
		if _, err := os.Stat(coedit.DefaultConfigFileName); err == nil {
			cfgPath = coedit.DefaultConfigFileName
		}
	}
	if cfgPath == "" {
		return "", nil
	}
	abs, err := filepath.Abs(cfgPath)
	if err != nil {
		return "", fmt.Errorf("resolve config path %q: %w", cfgPath, err)
	}
	viper.SetConfigFile(abs)
	if err := viper.ReadInConfig(); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read config file %q: %w", abs, err)
	}
	return abs, nil
}

func humanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.IBytes(uint64(n)), " ", "")
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
