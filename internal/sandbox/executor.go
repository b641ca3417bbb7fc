package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const outputCap = 1 << 20 // 1 MiB per stream

// HostExecutor compiles and runs submissions in throwaway working
// directories on the host. Each job gets a fresh directory, a scrubbed
// environment and a process group of its own so the whole tree can be
// killed on timeout or termination. Network isolation comes from the
// deployment (the service runs inside a network-less container); the
// executor itself guarantees filesystem and lifetime isolation.
type HostExecutor struct {
	workDir        string
	compileTimeout time.Duration
	log            zerolog.Logger
}

// NewHostExecutor creates a HostExecutor rooted at workDir.
func NewHostExecutor(workDir string, compileTimeout time.Duration, log zerolog.Logger) *HostExecutor {
	return &HostExecutor{
		workDir:        workDir,
		compileTimeout: compileTimeout,
		log:            log.With().Str("component", "sandbox_executor").Logger(),
	}
}

// Execute runs one job to completion. Verdicts are carried in the Result;
// the error return is reserved for infrastructure failures (workspace
// creation, missing toolchain).
func (e *HostExecutor) Execute(ctx context.Context, job Job) (Result, error) {
	prof, ok := profiles[job.Language]
	if !ok {
		return Result{}, fmt.Errorf("sandbox: unsupported language %q", job.Language)
	}

	dir, err := os.MkdirTemp(e.workDir, "codexam-job-")
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: create workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, prof.sourceFile), []byte(job.Source), 0o600); err != nil {
		return Result{}, fmt.Errorf("sandbox: write source: %w", err)
	}

	if prof.compiled {
		if res, done := e.compileStep(ctx, dir, prof); done {
			return res, nil
		}
	}

	return e.runStep(ctx, dir, prof, job), nil
}

// compileStep returns (result, true) when compilation decided the verdict:
// CompileError on a non-zero compiler exit, Terminated when the job was
// cancelled mid-compile.
func (e *HostExecutor) compileStep(ctx context.Context, dir string, prof profile) (Result, bool) {
	cctx, cancel := context.WithTimeout(ctx, e.compileTimeout)
	defer cancel()

	argv := prof.compile(dir)
	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = jobEnv(dir)

	var stderr bytes.Buffer
	cmd.Stderr = newCapWriter(&stderr, outputCap)

	err := cmd.Run()
	if err == nil {
		return Result{}, false
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return Result{Status: StatusTerminated}, true
	}

	// Treat compiler timeouts the same as diagnostics: the submission
	// cannot be run, and the student sees whatever the compiler said.
	msg := stderr.String()
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		msg = "compilation timed out"
	}
	return Result{
		Status:   StatusCompileError,
		Stderr:   msg,
		ExitCode: exitCode(err),
	}, true
}

func (e *HostExecutor) runStep(ctx context.Context, dir string, prof profile, job Job) Result {
	rctx, cancel := context.WithTimeout(ctx, job.Limits.WallTime)
	defer cancel()

	argv := prof.run(dir, job.Limits.MemoryMB)
	cmd := exec.CommandContext(rctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = jobEnv(dir)
	cmd.Stdin = strings.NewReader(job.Stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = newCapWriter(&stdout, outputCap)
	cmd.Stderr = newCapWriter(&stderr, outputCap)

	// Own process group, so the kill on cancel takes children with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	started := time.Now()
	err := cmd.Run()
	dur := time.Since(started)

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(err),
		Duration: dur,
	}

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		res.Status = StatusTerminated
	case errors.Is(rctx.Err(), context.DeadlineExceeded):
		res.Status = StatusTimeLimitExceeded
	case err != nil:
		if looksLikeOOM(err, res.Stderr) {
			res.Status = StatusMemoryExceeded
		} else {
			res.Status = StatusRuntimeError
		}
	case job.Compare(job.Expected, res.Stdout):
		res.Status = StatusPassed
	default:
		res.Status = StatusWrongAnswer
	}

	return res
}

// jobEnv is the minimal environment a job runs with. HOME and TMPDIR
// point inside the workspace so nothing escapes the job directory.
func jobEnv(dir string) []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=C.UTF-8",
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// looksLikeOOM classifies a failed run as a memory-ceiling hit: either
// the allocator reported it, or the kernel delivered SIGKILL without our
// cancel having fired.
func looksLikeOOM(err error, stderr string) bool {
	for _, marker := range []string{"std::bad_alloc", "MemoryError", "OutOfMemoryError", "out of memory"} {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGKILL {
			return true
		}
	}
	return false
}

// capWriter discards bytes past its cap, keeping captured output bounded.
type capWriter struct {
	buf *bytes.Buffer
	max int
}

func newCapWriter(buf *bytes.Buffer, max int) *capWriter {
	return &capWriter{buf: buf, max: max}
}

func (w *capWriter) Write(p []byte) (int, error) {
	remaining := w.max - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}
