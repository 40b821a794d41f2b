package core

// watcher.go loads geospatial files dropped into a directory.
//
// Filesystem events trigger a load once a file has been quiet for the
// settle delay. A cron sweep picks up anything the events missed, such as
// files present at startup. Loaded files, shapefile sidecars included, are
// moved to the processed sub-directory. Failed files stay in place and are
// retried only after they change.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/geoload/internal/logging"
	"github.com/JonMunkholm/geoload/internal/source"
	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

// DefaultProcessedDir is the sub-directory loaded files are moved to.
const DefaultProcessedDir = "Uploaded"

// FileLoader loads one file. *Loader satisfies it.
type FileLoader interface {
	LoadFile(ctx context.Context, path string, opts Options) *LoadReport
}

// WatchOptions configure a Watcher.
type WatchOptions struct {
	Dir          string
	ProcessedDir string
	Schedule     string
	Settle       time.Duration
	Load         Options

	// OnReport, when set, receives every load report.
	OnReport func(*LoadReport)
}

// Watcher feeds files from a directory to a FileLoader.
type Watcher struct {
	loader FileLoader
	opts   WatchOptions

	mu       sync.Mutex
	inflight map[string]bool
	failed   map[string]time.Time   // path -> mod time of the failed attempt
	pending  map[string]*time.Timer // settle timers not yet fired
}

// NewWatcher returns a watcher over opts.Dir.
func NewWatcher(loader FileLoader, opts WatchOptions) *Watcher {
	if opts.ProcessedDir == "" {
		opts.ProcessedDir = DefaultProcessedDir
	}
	return &Watcher{
		loader:   loader,
		opts:     opts,
		inflight: make(map[string]bool),
		failed:   make(map[string]time.Time),
		pending:  make(map[string]*time.Timer),
	}
}

// Run watches until ctx is cancelled. It sweeps once at startup.
func (w *Watcher) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).With(slog.String("dir", w.opts.Dir))

	if err := os.MkdirAll(filepath.Join(w.opts.Dir, w.opts.ProcessedDir), 0o755); err != nil {
		return fmt.Errorf("create processed directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.opts.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.opts.Dir, err)
	}

	var sched *cron.Cron
	if w.opts.Schedule != "" {
		sched = cron.New()
		if _, err := sched.AddFunc(w.opts.Schedule, func() { w.Sweep(ctx) }); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", w.opts.Schedule, err)
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	logger.Info("watcher started", slog.String("schedule", w.opts.Schedule), slog.Duration("settle", w.opts.Settle))
	w.Sweep(ctx)

	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher stopped")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !source.Supported(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", slog.Any("error", err))
		}
	}
}

// schedule processes path once it has been quiet for the settle delay. A
// new event for the same path restarts the delay.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(w.opts.Settle, func() {
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.Process(ctx, path)
	})
	w.pending[path] = t
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) pendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Sweep processes every supported file in the directory and returns how
// many loads succeeded.
func (w *Watcher) Sweep(ctx context.Context) int {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		logging.FromContext(ctx).Error("sweep failed", slog.String("dir", w.opts.Dir), slog.Any("error", err))
		return 0
	}

	loaded := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if entry.IsDir() || !source.Supported(entry.Name()) {
			continue
		}
		if rep := w.Process(ctx, filepath.Join(w.opts.Dir, entry.Name())); rep != nil && rep.Success {
			loaded++
		}
	}
	return loaded
}

// Process loads path unless it is already being loaded, is gone, or failed
// before and has not changed since. It returns nil when nothing was run.
func (w *Watcher) Process(ctx context.Context, path string) *LoadReport {
	logger := logging.FromContext(ctx).With(slog.String("file", path))

	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("stat failed", slog.Any("error", err))
		}
		return nil
	}

	w.mu.Lock()
	if w.inflight[path] {
		w.mu.Unlock()
		return nil
	}
	if mt, ok := w.failed[path]; ok && mt.Equal(info.ModTime()) {
		w.mu.Unlock()
		return nil
	}
	w.inflight[path] = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.inflight, path)
		w.mu.Unlock()
	}()

	rep := w.loader.LoadFile(ContextWithTrigger(ctx, TriggerWatch), path, w.opts.Load)
	if w.opts.OnReport != nil {
		w.opts.OnReport(rep)
	}

	w.mu.Lock()
	if rep.Success {
		delete(w.failed, path)
	} else {
		w.failed[path] = info.ModTime()
	}
	w.mu.Unlock()

	if !rep.Success {
		logger.Warn("file left in place", slog.String("error", rep.Error))
		return rep
	}

	if err := w.moveProcessed(path); err != nil {
		logger.Error("move to processed directory failed", slog.Any("error", err))
	}
	return rep
}

// moveProcessed moves path and, for shapefiles, every file sharing its
// base name into the processed directory.
func (w *Watcher) moveProcessed(path string) error {
	dir := filepath.Dir(path)
	dest := filepath.Join(dir, w.opts.ProcessedDir)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	files := []string{filepath.Base(path)}
	if format, _ := source.DetectFormat(path); format == source.FormatShapefile {
		files = companions(dir, filepath.Base(path))
	}

	var errs []error
	for _, name := range files {
		if err := os.Rename(filepath.Join(dir, name), filepath.Join(dest, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// companions lists the files in dir whose name minus extension matches
// name minus extension.
func companions(dir, name string) []string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{name}
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())) == stem {
			out = append(out, e.Name())
		}
	}
	return out
}
