package logging

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

type Mode int

const (
	ModeTruncate Mode = iota
	ModeAppend
)

func (m Mode) flags() int {
	if m == ModeAppend {
		return os.O_CREATE | os.O_APPEND | os.O_WRONLY
	}
	return os.O_CREATE | os.O_TRUNC | os.O_WRONLY
}

// Scope is a per-operation log file. Records sent through Logger and raw
// command output sent through Writer land in the same file, in order.
// A nil *Scope discards everything.
type Scope struct {
	path   string
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
	closed bool
}

func OpenScope(path string, mode Mode) (*Scope, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, mode.flags(), 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	s := &Scope{path: path, file: file}
	s.logger = slog.New(slog.NewTextHandler(lockedWriter{s}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	return s, nil
}

func (s *Scope) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Scope) Logger() *slog.Logger {
	if s == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s.logger
}

// Writer returns an io.Writer that copies complete lines into the scope
// file. Partial trailing lines are held until the next newline or Flush.
func (s *Scope) Writer() *LineWriter {
	return &LineWriter{out: lockedWriter{s}}
}

func (s *Scope) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

func (s *Scope) write(p []byte) (int, error) {
	if s == nil {
		return len(p), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, os.ErrClosed
	}
	return s.file.Write(p)
}

type lockedWriter struct {
	s *Scope
}

func (w lockedWriter) Write(p []byte) (int, error) {
	return w.s.write(p)
}

type LineWriter struct {
	mu  sync.Mutex
	out io.Writer
	buf bytes.Buffer
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := w.buf.Next(i + 1)
		if _, err := w.out.Write(line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush writes any buffered partial line followed by a newline.
func (w *LineWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return nil
	}
	line := append(w.buf.Bytes(), '\n')
	w.buf.Reset()
	_, err := w.out.Write(line)
	return err
}
