package feedbacksync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultQuietPeriod = 2 * time.Second

type DraftWatcherOptions struct {
	// Path is the local file holding the draft text.
	Path string
	// QuietPeriod is how long writes must settle before a save.
	QuietPeriod time.Duration
	OnSaved     func(content string)
	OnError     func(err error)
	Logger      *zap.Logger
}

// DraftWatcher saves the in-progress response whenever a local file stops
// changing. Saves run on the watcher goroutine one at a time.
type DraftWatcher struct {
	actions  *Actions
	path     string
	quiet    time.Duration
	onSaved  func(string)
	onError  func(error)
	logger   *zap.Logger
	lastSent string
}

func NewDraftWatcher(actions *Actions, opts DraftWatcherOptions) (*DraftWatcher, error) {
	if actions == nil {
		return nil, errors.New("draft watcher needs actions")
	}
	if opts.Path == "" {
		return nil, errors.New("draft watcher needs a file path")
	}
	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, err
	}
	quiet := opts.QuietPeriod
	if quiet <= 0 {
		quiet = defaultQuietPeriod
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DraftWatcher{
		actions:  actions,
		path:     path,
		quiet:    quiet,
		onSaved:  opts.OnSaved,
		onError:  opts.OnError,
		logger:   logger,
		lastSent: actions.Store().InProgressResponse().Content,
	}, nil
}

// Run watches until ctx is done or the response is submitted elsewhere.
// Cancellation returns nil; a finished response returns ErrResponseFinished.
func (w *DraftWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	// Editors often save by renaming a temp file over the target, so the
	// directory is watched rather than the file.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.logger.Info("watching draft file", zap.String("path", w.path), zap.Duration("quiet_period", w.quiet))

	var (
		timer  *time.Timer
		settle <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.quiet)
			settle = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.report(err)
		case <-settle:
			settle = nil
			if err := w.flush(ctx); err != nil {
				if errors.Is(err, ErrResponseFinished) {
					return err
				}
				w.report(err)
			}
		}
	}
}

// flush saves the file content if it differs from what was last sent.
func (w *DraftWatcher) flush(ctx context.Context) error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	content := string(data)
	if content == w.lastSent {
		return nil
	}
	if err := w.actions.SaveInProgressDraft(ctx, content); err != nil {
		return err
	}
	w.lastSent = content
	w.logger.Debug("draft saved", zap.String("path", w.path), zap.Int("bytes", len(data)))
	if w.onSaved != nil {
		w.onSaved(content)
	}
	return nil
}

func (w *DraftWatcher) report(err error) {
	w.logger.Warn("draft save failed", zap.String("path", w.path), zap.Error(err))
	if w.onError != nil {
		w.onError(err)
	}
}
