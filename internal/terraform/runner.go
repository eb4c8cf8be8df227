// Package terraform drives the terraform CLI in per-workspace directories.
package terraform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/akmukhi/developer-self-service/internal/pkg/metrics"
)

// DefaultTimeout bounds a single terraform command.
const DefaultTimeout = 300 * time.Second

var (
	ErrBinaryNotFound     = errors.New("terraform binary not found")
	ErrTimeout            = errors.New("terraform command timed out")
	ErrCommandFailed      = errors.New("terraform command failed")
	ErrUnsupportedVersion = errors.New("unsupported terraform version")
	ErrWorkspaceNotFound  = errors.New("workspace not found")
	ErrInvalidWorkspace   = errors.New("invalid workspace id")
)

// Result is the captured output of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes the terraform binary.
type Runner struct {
	binary  string
	timeout time.Duration
	log     *slog.Logger
}

// NewRunner returns a runner for binary (looked up in PATH when not a path).
func NewRunner(binary string, timeout time.Duration, log *slog.Logger) *Runner {
	if binary == "" {
		binary = "terraform"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{binary: binary, timeout: timeout, log: log}
}

// Run executes terraform with args in dir. A non-zero exit returns the result together with an
// error wrapping ErrCommandFailed.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	command := "terraform"
	if len(args) > 0 {
		command = args[0]
	}
	r.log.Debug("Running terraform", "args", strings.Join(args, " "), "dir", dir)

	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TF_IN_AUTOMATION=1", "TF_INPUT=0")
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}

	status := "success"
	defer func() {
		metrics.TerraformCommandDurationSeconds.WithLabelValues(command, status).Observe(res.Duration.Seconds())
	}()

	if err == nil {
		return res, nil
	}
	status = "error"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		status = "timeout"
		r.log.Error("Terraform command timed out", "command", command, "timeout", r.timeout)
		return res, fmt.Errorf("%w after %s: terraform %s", ErrTimeout, r.timeout, command)
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return res, fmt.Errorf("%w: %s", ErrBinaryNotFound, r.binary)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = err.Error()
		}
		r.log.Warn("Terraform command failed", "command", command, "exit_code", res.ExitCode)
		return res, fmt.Errorf("%w: terraform %s: %s", ErrCommandFailed, command, msg)
	}
	return res, fmt.Errorf("run terraform %s: %w", command, err)
}
