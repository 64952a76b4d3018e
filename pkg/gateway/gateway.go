// Package gateway runs the external trainer and sampler executables and
// captures what they print.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"

	werrors "github.com/ldd69/anvil/pkg/errors"
)

// Gateway runs executables synchronously, capturing stdout and stderr into
// one combined buffer.
type Gateway struct {
	stream io.Writer
	dir    string
	env    []string
}

// Config holds configuration for a Gateway.
type Config struct {
	// Stream, when set, receives a live copy of everything captured.
	Stream io.Writer
	// Dir is the working directory of spawned processes. Empty means the
	// current directory.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
}

// New creates a Gateway.
func New(cfg Config) *Gateway {
	return &Gateway{stream: cfg.Stream, dir: cfg.Dir, env: cfg.Env}
}

// LookPath reports whether exe can be started, returning its resolved path.
func (g *Gateway) LookPath(exe string) (string, error) {
	path, err := exec.LookPath(exe)
	if err != nil {
		return "", werrors.ProcessStartFailed(exe, err)
	}
	return path, nil
}

// Run starts exe with args and waits for it to exit. The combined output is
// returned on success and on a nonzero exit, where the error carries
// PROCESS_FAILED and the exit status.
//
// ctx is consulted only before the process starts. A running process is
// never killed; a cancelled context takes effect at the caller's next
// invocation.
func (g *Gateway) Run(ctx context.Context, exe string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	var out io.Writer = &buf
	if g.stream != nil {
		out = io.MultiWriter(&buf, g.stream)
	}

	cmd := exec.Command(exe, args...)
	cmd.Dir = g.dir
	if len(g.env) > 0 {
		cmd.Env = append(cmd.Environ(), g.env...)
	}
	// One writer for both streams: os/exec then shares a single pipe and
	// the interleaving matches what a terminal would show.
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, werrors.ProcessStartFailed(exe, err).
			WithContext("args", strings.Join(args, " "))
	}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return buf.Bytes(), werrors.ProcessFailed(exe, exitErr.ExitCode(), err).
				WithContext("args", strings.Join(args, " "))
		}
		return buf.Bytes(), werrors.ProcessFailed(exe, -1, err)
	}
	return buf.Bytes(), nil
}
