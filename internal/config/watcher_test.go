package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/camcore/internal/logging"
)

type engineSection struct {
	Engine struct {
		Workers    int `toml:"workers"`
		LatencyMax int `toml:"default_latency_max"`
	} `toml:"engine"`
}

func loadEngineSection(path string) (engineSection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engineSection{}, err
	}
	var cfg engineSection
	err = toml.Unmarshal(data, &cfg)
	return cfg, err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func startWatcher[T any](t *testing.T, w *Watcher[T]) {
	t.Helper()
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("watcher.Stop failed: %v", err)
		}
	})
	// Wait for watcher to initialize
	time.Sleep(100 * time.Millisecond)
}

func TestConfigWatcher_BasicReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camcore.toml")
	writeConfig(t, path, "[engine]\nworkers = 2\n")

	received := make(chan engineSection, 1)
	w := NewWatcher(path, loadEngineSection, newTestLogger(),
		WithDebounce[engineSection](50*time.Millisecond))
	w.OnReload(func(cfg engineSection) { received <- cfg })
	startWatcher(t, w)

	writeConfig(t, path, "[engine]\nworkers = 4\ndefault_latency_max = 3\n")

	select {
	case cfg := <-received:
		if cfg.Engine.Workers != 4 || cfg.Engine.LatencyMax != 3 {
			t.Errorf("got %+v, want workers=4 latency=3", cfg.Engine)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestConfigWatcher_ErrorHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camcore.toml")
	writeConfig(t, path, "[engine]\nworkers = 2\n")

	errorReceived := make(chan error, 1)
	configReceived := make(chan engineSection, 1)
	w := NewWatcher(path, loadEngineSection, newTestLogger(),
		WithDebounce[engineSection](50*time.Millisecond),
		WithErrorHandler[engineSection](func(err error) { errorReceived <- err }))
	w.OnReload(func(cfg engineSection) { configReceived <- cfg })
	startWatcher(t, w)

	writeConfig(t, path, "invalid toml [[[")

	select {
	case <-errorReceived:
	case <-configReceived:
		t.Fatal("config handler should not be called on error")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestConfigWatcher_Debounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camcore.toml")
	writeConfig(t, path, "[engine]\nworkers = 0\n")

	var count, last atomic.Int32
	w := NewWatcher(path, loadEngineSection, newTestLogger(),
		WithDebounce[engineSection](200*time.Millisecond))
	w.OnReload(func(cfg engineSection) {
		count.Add(1)
		last.Store(int32(cfg.Engine.Workers))
	})
	startWatcher(t, w)

	// Rapid changes within debounce window
	for i := 1; i <= 5; i++ {
		writeConfig(t, path, fmt.Sprintf("[engine]\nworkers = %d\n", i))
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected 1 debounced call, got %d", got)
	}
	if got := last.Load(); got != 5 {
		t.Errorf("expected final workers 5, got %d", got)
	}
}

func TestConfigWatcher_Unsubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camcore.toml")
	writeConfig(t, path, "[engine]\nworkers = 1\n")

	var kept, dropped atomic.Int32
	w := NewWatcher(path, loadEngineSection, newTestLogger(),
		WithDebounce[engineSection](50*time.Millisecond))
	w.OnReload(func(engineSection) { kept.Add(1) })
	unsub := w.OnReload(func(engineSection) { dropped.Add(1) })
	startWatcher(t, w)

	unsub()
	writeConfig(t, path, "[engine]\nworkers = 3\n")

	deadline := time.Now().Add(2 * time.Second)
	for kept.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if kept.Load() == 0 {
		t.Fatal("remaining handler not called")
	}
	if dropped.Load() != 0 {
		t.Error("unsubscribed handler was called")
	}
}

func TestConfigWatcher_ReplacedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camcore.toml")
	writeConfig(t, path, "[engine]\nworkers = 1\n")

	received := make(chan engineSection, 4)
	w := NewWatcher(path, loadEngineSection, newTestLogger(),
		WithDebounce[engineSection](50*time.Millisecond))
	w.OnReload(func(cfg engineSection) { received <- cfg })
	startWatcher(t, w)

	// Save the way editors do: write a sibling and rename it over.
	tmp := filepath.Join(dir, "camcore.toml.new")
	writeConfig(t, tmp, "[engine]\nworkers = 6\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case cfg := <-received:
			if cfg.Engine.Workers == 6 {
				return
			}
		case <-ctx.Done():
			t.Fatal("replaced config was not reloaded")
		}
	}
}

func TestConfigWatcher_Stop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camcore.toml")
	writeConfig(t, path, "[engine]\nworkers = 1\n")

	var count atomic.Int32
	w := NewWatcher(path, loadEngineSection, newTestLogger(),
		WithDebounce[engineSection](50*time.Millisecond))
	w.OnReload(func(engineSection) { count.Add(1) })

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}

	writeConfig(t, path, "[engine]\nworkers = 9\n")
	time.Sleep(200 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("expected 0 calls after stop, got %d", got)
	}
}

func TestConfigWatcher_UnchangedContentSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camcore.toml")
	writeConfig(t, path, "[engine]\nworkers = 2\n")

	received := make(chan engineSection, 4)
	w := NewWatcher(path, loadEngineSection, newTestLogger(),
		WithDebounce[engineSection](50*time.Millisecond))
	w.OnReload(func(cfg engineSection) { received <- cfg })
	startWatcher(t, w)

	writeConfig(t, path, "[engine]\nworkers = 2\n")
	select {
	case cfg := <-received:
		t.Fatalf("identical save reloaded: %+v", cfg.Engine)
	case <-time.After(300 * time.Millisecond):
	}

	writeConfig(t, path, "[engine]\nworkers = 7\n")
	select {
	case cfg := <-received:
		if cfg.Engine.Workers != 7 {
			t.Errorf("workers = %d, want 7", cfg.Engine.Workers)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestConfigWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camcore.toml")
	writeConfig(t, path, "[engine]\nworkers = 1\n")

	var count atomic.Int32
	w := NewWatcher(path, loadEngineSection, newTestLogger(),
		WithDebounce[engineSection](50*time.Millisecond))
	w.OnReload(func(engineSection) { count.Add(1) })
	startWatcher(t, w)

	writeConfig(t, filepath.Join(dir, "platform.toml"), "[engine]\nworkers = 5\n")
	time.Sleep(300 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Errorf("sibling write triggered %d reloads", got)
	}
}

func TestConfigWatcher_StartMissingFile(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "absent.toml"), loadEngineSection, newTestLogger())
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded on a missing file")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop after failed Start = %v", err)
	}
}

func TestConfigWatcher_ContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camcore.toml")
	writeConfig(t, path, "[engine]\nworkers = 1\n")

	var count atomic.Int32
	w := NewWatcher(path, loadEngineSection, newTestLogger(),
		WithDebounce[engineSection](50*time.Millisecond))
	w.OnReload(func(engineSection) { count.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}

	writeConfig(t, path, "[engine]\nworkers = 4\n")
	time.Sleep(200 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Errorf("expected 0 calls after cancel, got %d", got)
	}
}

func TestWatchLogging_AppliesLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camcore.toml")
	writeConfig(t, path, "[logging]\nlevel = \"info\"\n")

	logging.Initialize(logging.Config{Level: "info", Format: "text"})
	logger := logging.GetLogger("dispatch")
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("dispatch should start at info")
	}

	w, err := WatchLogging(context.Background(), path, newTestLogger(), WithDebounce[logging.Config](50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	time.Sleep(100 * time.Millisecond)

	writeConfig(t, path, "[logging]\nlevel = \"info\"\n\n[logging.modules]\ndispatch = \"debug\"\n")

	deadline := time.Now().Add(2 * time.Second)
	for !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		if time.Now().After(deadline) {
			t.Fatal("dispatch level not reloaded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
