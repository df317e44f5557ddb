package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNopFetcherLeavesFilesAlone(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "shop-playbook.yml")
	if err := os.WriteFile(staged, []byte("- hosts: all"), 0o644); err != nil {
		t.Fatal(err)
	}

	nop := Nop{Log: zerolog.Nop()}
	if err := nop.Fetch(context.Background(), "shop/playbook.yml", staged); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	data, err := os.ReadFile(staged)
	if err != nil || string(data) != "- hosts: all" {
		t.Errorf("staged file changed: %q, %v", data, err)
	}

	// Fetching a never-staged key must not create the file either.
	missing := filepath.Join(dir, "absent.yml")
	if err := nop.Fetch(context.Background(), "absent.yml", missing); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Error("nop fetcher created a file")
	}
}

func TestErrNotFoundIsSentinel(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), ErrNotFound)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("errors.Is() cannot detect ErrNotFound through wrapping")
	}
}

func TestWatcherReportsPlaybookChanges(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, zerolog.Nop())
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := w.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	staged := filepath.Join(dir, "shop-web-playbook.yml")
	if err := os.WriteFile(staged, []byte("- hosts: all"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A non-playbook file must not surface.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changes:
		if got != staged {
			t.Errorf("change = %q, want %q", got, staged)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change event")
	}

	select {
	case got := <-changes:
		t.Errorf("unexpected extra change %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcherClosesOnCancel(t *testing.T) {
	w := NewWatcher(t.TempDir(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	changes, err := w.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	cancel()

	select {
	case _, ok := <-changes:
		if ok {
			t.Error("received event after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestWatcherMissingDir(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "absent"), zerolog.Nop())
	if _, err := w.Watch(context.Background()); err == nil {
		t.Fatal("Watch() = nil, want error for missing directory")
	}
}
