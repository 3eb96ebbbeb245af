package sandbox

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestRunUnsupportedLanguage(t *testing.T) {
	engine := New(Config{})
	res := engine.Run(context.Background(), "brainfuck", "+++")
	if res.Success {
		t.Fatal("unsupported language must not succeed")
	}
	if res.Output != UnsupportedMessage {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestRunPythonCapturesCombinedOutput(t *testing.T) {
	// The interpreter is swapped for sh so the test does not depend on a
	// Python installation; the pipeline under test is identical.
	engine := New(Config{Python: "sh"})
	res := engine.Run(context.Background(), "python", "echo out\necho err 1>&2\n")
	if !res.Success {
		t.Fatalf("expected success, output: %q", res.Output)
	}
	if !strings.Contains(res.Output, "out") || !strings.Contains(res.Output, "err") {
		t.Fatalf("stderr not folded into stdout: %q", res.Output)
	}
}

func TestRunPythonNonZeroExit(t *testing.T) {
	engine := New(Config{Python: "sh"})
	res := engine.Run(context.Background(), "python", "echo boom 1>&2\nexit 3\n")
	if res.Success {
		t.Fatal("non-zero exit must not succeed")
	}
	if !strings.Contains(res.Output, "boom") {
		t.Fatalf("diagnostic output missing: %q", res.Output)
	}
}

func TestRunTimeoutReturnsWithinBound(t *testing.T) {
	engine := New(Config{Python: "sh", Timeout: 200 * time.Millisecond})
	start := time.Now()
	res := engine.Run(context.Background(), "python", "echo started\nsleep 30\n")
	elapsed := time.Since(start)

	if res.Success {
		t.Fatal("timed-out run must not succeed")
	}
	if elapsed > 5*time.Second {
		t.Fatalf("run blocked for %s, timeout not enforced", elapsed)
	}
	if !strings.Contains(res.Output, "started") {
		t.Fatalf("output captured before timeout missing: %q", res.Output)
	}
	if !strings.Contains(res.Output, "[terminated") {
		t.Fatalf("timeout diagnostic missing: %q", res.Output)
	}
}

func TestRunJavaCompileFailureStopsPipeline(t *testing.T) {
	// sh as "compiler" exits non-zero on the nonsense source, which must
	// surface as a compile error without attempting the run step.
	engine := New(Config{JavaCompiler: "sh", JavaRuntime: "sh"})
	res := engine.Run(context.Background(), "java", "public class Broken {{{\n")
	if res.Success {
		t.Fatal("compile failure must not succeed")
	}
	if !strings.HasPrefix(res.Output, "COMPILE ERROR:\n") {
		t.Fatalf("missing compile error prefix: %q", res.Output)
	}
}

func TestRunJavaClassNameExtraction(t *testing.T) {
	// true accepts anything as the compile step; echo stands in for the
	// runtime so the invocation arguments become the observable output.
	engine := New(Config{JavaCompiler: "true", JavaRuntime: "echo"})
	res := engine.Run(context.Background(), "java", "public class Greeter { }")
	if !res.Success {
		t.Fatalf("expected success, output: %q", res.Output)
	}
	if !strings.Contains(res.Output, "Greeter") {
		t.Fatalf("extracted class name not used: %q", res.Output)
	}
}

func TestRunJavaDefaultsToMain(t *testing.T) {
	engine := New(Config{JavaCompiler: "true", JavaRuntime: "echo"})
	res := engine.Run(context.Background(), "java", "class lowercase {}")
	if !strings.Contains(res.Output, "Main") {
		t.Fatalf("expected Main fallback, output: %q", res.Output)
	}
}

func TestRunSpawnFailureIsContained(t *testing.T) {
	engine := New(Config{Python: "coedit-no-such-interpreter"})
	res := engine.Run(context.Background(), "python", "print(1)")
	if res.Success {
		t.Fatal("spawn failure must not succeed")
	}
}

func TestRunRealPython(t *testing.T) {
	interpreter, err := exec.LookPath("python")
	if err != nil {
		interpreter, err = exec.LookPath("python3")
	}
	if err != nil {
		t.Skip("no python interpreter on PATH")
	}

	engine := New(Config{Python: interpreter})
	res := engine.Run(context.Background(), "python", "print(1+1)")
	if !res.Success {
		t.Fatalf("expected success, output: %q", res.Output)
	}
	if !strings.Contains(res.Output, "2") {
		t.Fatalf("expected output to contain 2, got %q", res.Output)
	}
}
