package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"pkt.systems/coedit"
	"pkt.systems/pslog"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCommand(pslog.NewStructured(io.Discard))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute version: %v", err)
	}
	if !strings.Contains(out.String(), "pkt.systems/coedit") {
		t.Fatalf("version output = %q", out.String())
	}
}

func TestBindConfigDefaults(t *testing.T) {
	_ = newRootCommand(pslog.NewStructured(io.Discard))
	var cfg coedit.Config
	if err := bindConfig(&cfg); err != nil {
		t.Fatalf("bindConfig: %v", err)
	}
	if cfg.Listen != coedit.DefaultListen {
		t.Fatalf("Listen = %q, want %q", cfg.Listen, coedit.DefaultListen)
	}
	if cfg.StorageRoot != coedit.DefaultStorageRoot {
		t.Fatalf("StorageRoot = %q", cfg.StorageRoot)
	}
	if cfg.ExecMaxOutputBytes != coedit.DefaultExecMaxOutputBytes {
		t.Fatalf("ExecMaxOutputBytes = %d", cfg.ExecMaxOutputBytes)
	}
}

func TestBindConfigParsesSizes(t *testing.T) {
	_ = newRootCommand(pslog.NewStructured(io.Discard))
	viper.Set("exec-max-output", "1MiB")
	t.Cleanup(func() { viper.Set("exec-max-output", humanizeBytes(coedit.DefaultExecMaxOutputBytes)) })
	var cfg coedit.Config
	if err := bindConfig(&cfg); err != nil {
		t.Fatalf("bindConfig: %v", err)
	}
	if cfg.ExecMaxOutputBytes != 1<<20 {
		t.Fatalf("ExecMaxOutputBytes = %d, want %d", cfg.ExecMaxOutputBytes, 1<<20)
	}
}
