package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Options controls a single command invocation.
type Options struct {
	// AllowFailure returns a Result instead of an *ExitError on nonzero exit.
	AllowFailure bool
	// Log receives stdout and stderr merged, as the command produces them.
	Log io.Writer
	// Env replaces the inherited environment when non-empty.
	Env []string
	Dir string
}

type Result struct {
	Command  []string
	Stdout   string
	Stderr   string
	ExitCode int
}

// Output is what the command printed; merged output when it was logged.
func (r *Result) Output() string {
	if r.Stderr != "" {
		return r.Stdout + r.Stderr
	}
	return r.Stdout
}

type Runner interface {
	Run(ctx context.Context, argv []string, opts Options) (*Result, error)
}

type ExitError struct {
	Command  string
	Output   string
	ExitCode int
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q returned exit code %d", e.Command, e.ExitCode)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += " (" + out + ")"
	}
	return msg
}

// Exec runs commands on the host, elevating with sudo when AsRoot is set and
// the process is not already root.
type Exec struct {
	AsRoot bool
}

func (e *Exec) Run(ctx context.Context, argv []string, opts Options) (*Result, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	args := argv
	if e.AsRoot && os.Geteuid() != 0 {
		args = append([]string{"sudo", "-E"}, argv...)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	} else {
		cmd.Env = os.Environ()
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	if opts.Log != nil {
		merged := io.MultiWriter(&stdout, opts.Log)
		cmd.Stdout = merged
		cmd.Stderr = merged
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	slog.Debug("Running command", "command", strings.Join(argv, " "))

	err := cmd.Run()
	if f, ok := opts.Log.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}

	result := &Result{
		Command: argv,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run %q: %w", strings.Join(argv, " "), err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("command aborted: %w", ctx.Err())
		}
		result.ExitCode = exitErr.ExitCode()
	}

	if result.ExitCode != 0 && !opts.AllowFailure {
		out := result.Stderr
		if out == "" {
			out = result.Stdout
		}
		return result, &ExitError{
			Command:  strings.Join(argv, " "),
			Output:   out,
			ExitCode: result.ExitCode,
		}
	}

	return result, nil
}

// RemoveTree deletes path through r, so trees written by elevated commands
// are removed with the same privileges. A missing path is not an error.
func RemoveTree(ctx context.Context, r Runner, path string) error {
	res, err := r.Run(ctx, []string{"rm", "-rf", "--", path}, Options{AllowFailure: true})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &ExitError{Command: strings.Join(res.Command, " "), Output: res.Output(), ExitCode: res.ExitCode}
	}
	return nil
}
