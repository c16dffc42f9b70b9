// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package connectivity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FlagFile reads connectivity from a file: the content "offline" (any case,
// surrounding whitespace ignored) means offline, anything else or no file at
// all means online. Handy for simulating airplane mode from a shell.
type FlagFile struct {
	state
	path   string
	logger *slog.Logger
}

// NewFlagFile creates a source for path and reads its current state
func NewFlagFile(path string, logger *slog.Logger) *FlagFile {
	if logger == nil {
		logger = slog.Default()
	}
	f := &FlagFile{path: path, logger: logger}
	f.online.Store(f.read())
	return f
}

// Path returns the watched file
func (f *FlagFile) Path() string { return f.path }

func (f *FlagFile) read() bool {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn("Failed to read connectivity flag file", "path", f.path, "error", err)
		}
		return true
	}
	return !bytes.EqualFold(bytes.TrimSpace(data), []byte("offline"))
}

// Refresh re-reads the file and updates the state
func (f *FlagFile) Refresh() bool {
	online := f.read()
	if f.set(online) {
		f.logger.Info("Connectivity flag switched to online", "path", f.path)
	}
	return online
}

// Run watches the file's directory and refreshes on every change to the file
// until ctx is done.
func (f *FlagFile) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	// The file may have changed between construction and the watch.
	f.Refresh()

	name := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				f.Refresh()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("Connectivity flag watcher error", "error", err)
		}
	}
}
