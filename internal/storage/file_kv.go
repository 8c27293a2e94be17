// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/rigrun-web/internal/util"
)

// FileKV stores each key as <dir>/<key>.json.
type FileKV struct {
	dir string
}

// NewFileKV creates dir if needed and returns a store rooted there.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	return &FileKV{dir: dir}, nil
}

// Dir returns the directory holding the documents.
func (f *FileKV) Dir() string { return f.dir }

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *FileKV) Get(key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (f *FileKV) Set(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return util.AtomicWriteFile(f.path(key), value, 0o600)
}

func (f *FileKV) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := os.Remove(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileKV) Close() error { return nil }

// watchDebounce folds the burst of events a single save produces.
const watchDebounce = 150 * time.Millisecond

// Watch calls fn with the new contents whenever key's file is written by
// anyone, including this process. It returns once the watcher is installed
// and stops when ctx ends.
func (f *FileKV) Watch(ctx context.Context, key string, fn func([]byte)) error {
	if err := validateKey(key); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("storage: watcher: %w", err)
	}
	// The directory is watched because atomic saves replace the file inode.
	if err := w.Add(f.dir); err != nil {
		w.Close()
		return fmt.Errorf("storage: watch %s: %w", f.dir, err)
	}

	target := f.path(key)
	go func() {
		defer w.Close()
		timer := time.NewTimer(time.Hour)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					timer.Reset(watchDebounce)
				}
			case <-timer.C:
				data, err := os.ReadFile(target)
				if err != nil {
					log.Warn("STORE_WATCH_READ_FAILED", "key", key, "err", err)
					continue
				}
				fn(data)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("STORE_WATCH_ERROR", "key", key, "err", err)
			}
		}
	}()
	return nil
}
