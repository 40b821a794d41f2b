package core

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

type recordingLoader struct {
	mu     sync.Mutex
	paths  []string
	fail   bool
	loaded chan string
}

func (l *recordingLoader) LoadFile(ctx context.Context, path string, _ Options) *LoadReport {
	l.mu.Lock()
	l.paths = append(l.paths, filepath.Base(path))
	l.mu.Unlock()

	if l.loaded != nil {
		l.loaded <- path
	}
	rep := &LoadReport{Source: path, Trigger: TriggerFromContext(ctx), Success: !l.fail}
	if l.fail {
		rep.Error = "boom"
	}
	return rep
}

func (l *recordingLoader) calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]string(nil), l.paths...)
	sort.Strings(out)
	return out
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestWatcher_SweepMovesLoadedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.geojson", "notes.txt", "p.shp", "p.shx", "p.dbf", "p.prj", "q.dbf")

	loader := &recordingLoader{}
	w := NewWatcher(loader, WatchOptions{Dir: dir})

	if n := w.Sweep(context.Background()); n != 2 {
		t.Errorf("Sweep() = %d, want 2", n)
	}

	got := loader.calls()
	if len(got) != 2 || got[0] != "a.geojson" || got[1] != "p.shp" {
		t.Errorf("loaded %v, want [a.geojson p.shp]", got)
	}

	processed := filepath.Join(dir, DefaultProcessedDir)
	for _, name := range []string{"a.geojson", "p.shp", "p.shx", "p.dbf", "p.prj"} {
		if !exists(filepath.Join(processed, name)) {
			t.Errorf("%s not moved to %s", name, DefaultProcessedDir)
		}
	}
	for _, name := range []string{"notes.txt", "q.dbf"} {
		if !exists(filepath.Join(dir, name)) {
			t.Errorf("%s should stay in place", name)
		}
	}
}

func TestWatcher_FailedFileRetriedOnlyAfterChange(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "bad.geojson")

	var reports []*LoadReport
	loader := &recordingLoader{fail: true}
	w := NewWatcher(loader, WatchOptions{
		Dir:      dir,
		OnReport: func(r *LoadReport) { reports = append(reports, r) },
	})
	ctx := context.Background()

	w.Sweep(ctx)
	w.Sweep(ctx)
	if got := len(loader.calls()); got != 1 {
		t.Fatalf("loads = %d, want 1 while the file is unchanged", got)
	}
	if !exists(filepath.Join(dir, "bad.geojson")) {
		t.Fatal("failed file was moved")
	}

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(filepath.Join(dir, "bad.geojson"), later, later); err != nil {
		t.Fatal(err)
	}
	w.Sweep(ctx)
	if got := len(loader.calls()); got != 2 {
		t.Errorf("loads = %d, want 2 after the file changed", got)
	}

	if len(reports) != 2 || reports[0].Trigger != TriggerWatch {
		t.Errorf("reports = %+v, want 2 watch-triggered reports", reports)
	}
}

func TestWatcher_ProcessMissingFile(t *testing.T) {
	w := NewWatcher(&recordingLoader{}, WatchOptions{Dir: t.TempDir()})
	if rep := w.Process(context.Background(), filepath.Join(t.TempDir(), "gone.fgb")); rep != nil {
		t.Errorf("Process() = %+v, want nil", rep)
	}
}

func TestWatcher_RunLoadsNewFile(t *testing.T) {
	dir := t.TempDir()
	loader := &recordingLoader{loaded: make(chan string, 4)}
	w := NewWatcher(loader, WatchOptions{
		Dir:      dir,
		Schedule: "@every 1h",
		Settle:   10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Let Run register the directory before the file appears.
	time.Sleep(100 * time.Millisecond)
	writeFiles(t, dir, "new.fgb")

	select {
	case path := <-loader.loaded:
		if filepath.Base(path) != "new.fgb" {
			t.Errorf("loaded %s, want new.fgb", path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("file was not loaded")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestWatcher_RunInvalidSchedule(t *testing.T) {
	w := NewWatcher(&recordingLoader{}, WatchOptions{Dir: t.TempDir(), Schedule: "whenever"})
	if err := w.Run(context.Background()); err == nil {
		t.Error("Run() accepted an invalid schedule")
	}
}

func TestWatcher_SettledTimersAreReleased(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.geojson", "b.geojson")

	loader := &recordingLoader{loaded: make(chan string, 4)}
	w := NewWatcher(loader, WatchOptions{Dir: dir, Settle: 50 * time.Millisecond})
	ctx := context.Background()

	w.schedule(ctx, filepath.Join(dir, "a.geojson"))
	w.schedule(ctx, filepath.Join(dir, "a.geojson"))
	w.schedule(ctx, filepath.Join(dir, "b.geojson"))
	if n := w.pendingCount(); n != 2 {
		t.Errorf("pending = %d, want 2", n)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-loader.loaded:
		case <-time.After(2 * time.Second):
			t.Fatal("settled file was not loaded")
		}
	}

	// Process runs after the entry is released.
	if n := w.pendingCount(); n != 0 {
		t.Errorf("pending after settle = %d, want 0", n)
	}
	if got := loader.calls(); len(got) != 2 {
		t.Errorf("loaded %v, want each file once", got)
	}
}
