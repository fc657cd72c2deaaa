package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"omniacore/internal/types"
)

func TestRelevant(t *testing.T) {
	cases := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: "extractors.yaml", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "contracts.YML", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "export.json", Op: fsnotify.Remove}, true},
		{fsnotify.Event{Name: "registry.db", Op: fsnotify.Rename}, true},
		{fsnotify.Event{Name: "notes.txt", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "extractors.yaml", Op: fsnotify.Chmod}, false},
	}
	for _, tc := range cases {
		if got := relevant(tc.event); got != tc.want {
			t.Errorf("relevant(%s %s) = %v, want %v", tc.event.Op, tc.event.Name, got, tc.want)
		}
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	store := &countingStore{extractors: map[string]*Extractor{
		"date|it-IT": {ID: "ext-it", Kind: types.KindDate, Locale: "it-IT", Engine: types.EngineRegex, Active: true},
	}}
	reg, err := New(store, 16)
	if err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(dir, reg)
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Warm the cache, then touch a relevant file and wait out the debounce.
	if _, err := reg.Resolve(ctx, types.KindDate, "it-IT"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "extractors.yaml"), []byte("contracts: []\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		if _, err := reg.Resolve(ctx, types.KindDate, "it-IT"); err != nil {
			t.Fatal(err)
		}
		if store.lookups.Load() >= 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("registry never reloaded after file change")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestWatcherStartFailureDoesNotWedgeStop(t *testing.T) {
	reg, err := New(&countingStore{}, 16)
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), reg)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("watching a missing directory should fail")
	}

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked after a failed Start")
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	reg, err := New(&countingStore{}, 16)
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(t.TempDir(), reg)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
}
