// Package dlog implements the daemon's structured log writer: a single
// serialized writer producing "[<ISO-8601-UTC>] [<LEVEL>] <message>"
// lines, rotating the file to a single ".old" generation once it
// crosses 10 MiB.
package dlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// MaxSize is the rotation threshold in bytes (10 MiB).
const MaxSize = 10 * 1024 * 1024

type Level string

const (
	INFO  Level = "INFO"
	WARN  Level = "WARN"
	ERROR Level = "ERROR"
)

// Writer is a size-rotating, serialized log writer for one daemon log
// file. The zero value is not usable; construct with Open.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
	size int64
}

// Open opens (creating if absent) the log file at path in append mode.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening daemon log %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat daemon log %s: %w", path, err)
	}
	return &Writer{path: path, f: f, size: info.Size()}, nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Log writes one line at the given level, rotating first if the file is
// already at or past MaxSize.
func (w *Writer) Log(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] [%s] %s\n", time.Now().UTC().Format(time.RFC3339), level, msg)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size >= MaxSize {
		if err := w.rotateLocked(); err != nil {
			// Rotation failure must not lose the line; fall through and
			// keep appending to the current (oversized) file.
			_, _ = w.f.WriteString(fmt.Sprintf("[%s] [%s] log rotation failed: %v\n", time.Now().UTC().Format(time.RFC3339), WARN, err))
		}
	}

	n, _ := w.f.WriteString(line)
	w.size += int64(n)
}

func (w *Writer) Info(format string, args ...any)  { w.Log(INFO, format, args...) }
func (w *Writer) Warn(format string, args ...any)  { w.Log(WARN, format, args...) }
func (w *Writer) Error(format string, args ...any) { w.Log(ERROR, format, args...) }

// rotateLocked renames the current file to "<path>.old" (replacing any
// existing generation) and opens a fresh file. Caller must hold w.mu.
func (w *Writer) rotateLocked() error {
	oldPath := w.path + ".old"
	if err := os.Rename(w.path, oldPath); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	_ = w.f.Close()
	w.f = f
	w.size = 0
	return nil
}

// Size reports the current file size, for tests.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// OpenMemberLog opens a per-member log file in append mode. Per-member
// logs carry no formatting or rotation: the supervisor hands the
// returned file directly to the child as stdout/stderr.
func OpenMemberLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening member log %s: %w", path, err)
	}
	return f, nil
}
