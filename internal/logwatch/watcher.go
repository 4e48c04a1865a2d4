// Package logwatch tails the reverse-proxy log directory and emits line
// events. The engine only ever reads; the proxy appends and external
// rotation truncates.
package logwatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher follows appended lines across all log files of one directory.
// Lines are delivered on a bounded channel: a full channel pauses the
// tailer, which is the engine's back-pressure mechanism.
type Watcher struct {
	dir   string
	lines chan []byte

	offsets  map[string]int64
	partials map[string][]byte
}

// New builds a watcher over dir with the given channel capacity.
func New(dir string, bufferSize int) *Watcher {
	return &Watcher{
		dir:      dir,
		lines:    make(chan []byte, bufferSize),
		offsets:  make(map[string]int64),
		partials: make(map[string][]byte),
	}
}

// Lines is the channel of complete log lines, closed when Run returns.
func (w *Watcher) Lines() <-chan []byte {
	return w.lines
}

// Run tails the directory until ctx is cancelled. Files existing at start
// are followed from their current end; files created later are read from
// the beginning.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.lines)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	if err := w.seedOffsets(); err != nil {
		return err
	}

	slog.Info("[LogWatch] Watching log directory", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isLogFile(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				w.offsets[event.Name] = 0
				w.drain(ctx, event.Name)
			case event.Has(fsnotify.Write):
				w.drain(ctx, event.Name)
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				delete(w.offsets, event.Name)
				delete(w.partials, event.Name)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("[LogWatch] Watch error", "error", err)
		}
	}
}

// seedOffsets positions existing files at their end so a restart does not
// replay history already accounted for.
func (w *Watcher) seedOffsets() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read log directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if !isLogFile(path) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		w.offsets[path] = info.Size()
	}
	return nil
}

// drain reads everything appended since the last offset and emits the
// complete lines. A shrunk file means rotation truncated it: reread from
// the start.
func (w *Watcher) drain(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("[LogWatch] Cannot open log file", "path", path, "error", err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}

	offset := w.offsets[path]
	if info.Size() < offset {
		offset = 0
		delete(w.partials, path)
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Warn("[LogWatch] Cannot read log file", "path", path, "error", err)
		return
	}
	w.offsets[path] = offset + int64(len(data))

	buf := append(w.partials[path], data...)
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx == -1 {
			break
		}
		line := bytes.TrimRight(buf[:idx], "\r")
		buf = buf[idx+1:]
		if len(line) == 0 {
			continue
		}

		out := make([]byte, len(line))
		copy(out, line)
		select {
		case w.lines <- out:
		case <-ctx.Done():
			return
		}
	}

	if len(buf) > 0 {
		w.partials[path] = append([]byte(nil), buf...)
	} else {
		delete(w.partials, path)
	}
}

func isLogFile(path string) bool {
	return strings.HasSuffix(path, ".log") || strings.HasSuffix(path, ".json")
}
