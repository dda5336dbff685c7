package events

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Sink receives events synchronously, in emission order. Implementations
// must not reorder or buffer across Emit calls: the forwarder depends on
// file append order matching emission order.
type Sink interface {
	Emit(ev Event) error
	Close() error
}

// ConsoleSink writes one JSON line per event to a writer (stdout by default).
type ConsoleSink struct {
	w io.Writer
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleSink{w: w}
}

func (s *ConsoleSink) Emit(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "%s\n", line); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (s *ConsoleSink) Close() error { return nil }

// FileSink appends one JSON line per event to a log file. The file is the
// contract with the forwarder: append-only, newline-delimited.
type FileSink struct {
	f    *os.File
	path string
}

func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &FileSink{f: f, path: path}, nil
}

func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Emit(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error { return s.f.Close() }

// MultiSink fans out to each sink in order. All sinks are attempted even
// after a failure; the first error is reported so the caller can log it.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (s *MultiSink) Emit(ev Event) error {
	var first error
	for _, sink := range s.sinks {
		if err := sink.Emit(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *MultiSink) Close() error {
	var first error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ Sink = (*ConsoleSink)(nil)
	_ Sink = (*FileSink)(nil)
	_ Sink = (*MultiSink)(nil)
)
