package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatchReloadsValidChanges(t *testing.T) {
	path := writeConfig(t, "observability:\n  logging:\n    level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 10*time.Millisecond, nil, func(cfg *Config) { changes <- cfg })
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("observability:\n  logging:\n    level: nope\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("observability:\n  logging:\n    level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		if got := cfg.Observability.Logging.Level; got != "debug" {
			t.Errorf("reloaded level = %q, want debug (invalid edit must be skipped)", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	err := Watch(context.Background(), "/nonexistent/dir/quill.yaml", 0, nil, func(*Config) {})
	if err == nil {
		t.Fatal("expected error watching a missing directory")
	}
}
