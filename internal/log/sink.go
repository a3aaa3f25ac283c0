package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Sink is an append-only destination for log lines. Rotation or size capping
// can be layered behind this interface without touching call sites.
type Sink interface {
	io.Writer
	Close() error
}

// FileSink appends to a single file that grows without bound.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenFileSink creates the parent directory if needed and opens path for appending.
func OpenFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileSink{path: path, f: f}, nil
}

func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, os.ErrClosed
	}
	return s.f.Write(p)
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
