package clip

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// ReplayWatcher picks up files the streaming software drops into the replay
// buffer output directory and reports them once they stop growing.
type ReplayWatcher struct {
	dir     string
	handler func(path string)

	// settle is how long a file's size must hold still before it counts
	// as fully written.
	settle time.Duration
	poll   time.Duration
}

func NewReplayWatcher(dir string, handler func(path string)) *ReplayWatcher {
	return &ReplayWatcher{
		dir:     dir,
		handler: handler,
		settle:  2 * time.Second,
		poll:    500 * time.Millisecond,
	}
}

// Run watches the directory until ctx is canceled.
func (w *ReplayWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return errors.Wrapf(err, "watch %s", w.dir)
	}
	slog.Info("watching replay buffer directory", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isVideoFile(event.Name) {
				continue
			}
			go w.settleAndReport(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("replay watcher error", "err", err)
		}
	}
}

// settleAndReport waits until the file size holds still for the settle
// window, then invokes the handler. Duplicate events for the same file are
// harmless; the handler sees the file once it has settled each time.
func (w *ReplayWatcher) settleAndReport(ctx context.Context, path string) {
	var (
		lastSize   int64 = -1
		stableFor  time.Duration
		pollTicker = time.NewTicker(w.poll)
	)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
		}
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.Size() == lastSize {
			stableFor += w.poll
			if stableFor >= w.settle {
				w.handler(path)
				return
			}
			continue
		}
		lastSize = info.Size()
		stableFor = 0
	}
}

func isVideoFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".mkv", ".ts", ".flv", ".mov":
		return true
	}
	return false
}
