package swflow

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileActivityLogger writes activity entries as JSON lines, one file per
// execution named <execution id>.jsonl. Files stay open until Close.
type FileActivityLogger struct {
	directory string
	mutex     sync.Mutex
	files     map[string]*os.File
}

// NewFileActivityLogger creates directory when missing and returns a
// logger writing into it.
func NewFileActivityLogger(directory string) (*FileActivityLogger, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create activity log directory %s: %w", directory, err)
	}
	return &FileActivityLogger{directory: directory, files: map[string]*os.File{}}, nil
}

func (l *FileActivityLogger) path(executionID string) string {
	return filepath.Join(l.directory, executionID+".jsonl")
}

// LogActivity appends entry to the log of its execution.
func (l *FileActivityLogger) LogActivity(ctx context.Context, entry *ActivityLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal activity entry: %w", err)
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	f, ok := l.files[entry.ExecutionID]
	if !ok {
		f, err = os.OpenFile(l.path(entry.ExecutionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open activity log: %w", err)
		}
		l.files[entry.ExecutionID] = f
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write activity log: %w", err)
	}
	return nil
}

// GetActivityHistory reads every entry logged for an execution.
func (l *FileActivityLogger) GetActivityHistory(ctx context.Context, executionID string) ([]*ActivityLogEntry, error) {
	l.mutex.Lock()
	if f, ok := l.files[executionID]; ok {
		if err := f.Sync(); err != nil {
			l.mutex.Unlock()
			return nil, fmt.Errorf("failed to sync activity log: %w", err)
		}
	}
	l.mutex.Unlock()

	f, err := os.Open(l.path(executionID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []*ActivityLogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry ActivityLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("invalid activity log entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read activity log: %w", err)
	}
	return entries, nil
}

// Close syncs and closes every open log file.
func (l *FileActivityLogger) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	var errs []error
	for id, f := range l.files {
		if err := f.Sync(); err != nil {
			errs = append(errs, err)
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(l.files, id)
	}
	return errors.Join(errs...)
}
