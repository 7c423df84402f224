package sweep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// DefaultWaitDelay bounds how long Execute waits for the output pipes to close
// after the simulator is killed.
const DefaultWaitDelay = 5 * time.Second

// Executor runs the simulator once with args, streaming stdin into it, and
// returns everything it wrote to stdout.
type Executor interface {
	Execute(ctx context.Context, args []string, stdin io.Reader) ([]byte, error)
}

// StartError means the simulator process could not be launched.
type StartError struct {
	Path string
	Err  error
}

func (e *StartError) Error() string { return fmt.Sprintf("starting %s: %v", e.Path, e.Err) }
func (e *StartError) Unwrap() error { return e.Err }

// ExitError means the simulator ran but exited with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("simulator exited with status %d", e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// ProcessExecutor runs the simulator binary at Path as a child process.
type ProcessExecutor struct {
	Path string
	// WaitDelay is passed to exec.Cmd. A helper forked by the simulator can
	// hold stdout open after the simulator itself is killed.
	WaitDelay time.Duration
}

// NewProcessExecutor creates an executor for the simulator binary at path.
func NewProcessExecutor(path string) *ProcessExecutor {
	return &ProcessExecutor{Path: path, WaitDelay: DefaultWaitDelay}
}

// Execute starts the process and waits for it. An *os.File stdin is handed to
// the child as its descriptor; any other reader is copied on a goroutine.
// Stdout and stderr are drained on their own goroutines, so a simulator that
// writes a large report before consuming all of its input cannot deadlock.
// Cancelling ctx kills the process.
func (p *ProcessExecutor) Execute(ctx context.Context, args []string, stdin io.Reader) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Path, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = p.WaitDelay

	if err := cmd.Start(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &StartError{Path: p.Path, Err: err}
	}
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stdout.Bytes(), ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return stdout.Bytes(), fmt.Errorf("waiting for %s: %w", p.Path, err)
	}
	return stdout.Bytes(), nil
}
