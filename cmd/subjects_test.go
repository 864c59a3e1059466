package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
)

func TestShouldIgnoreSubjectsEvent(t *testing.T) {
	const path = "/etc/attendance/subjects.yaml"
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write to catalog", fsnotify.Event{Name: path, Op: fsnotify.Write}, false},
		{"catalog replaced by rename", fsnotify.Event{Name: path, Op: fsnotify.Create}, false},
		{"catalog renamed away", fsnotify.Event{Name: path, Op: fsnotify.Rename}, false},
		{"chmod ignored", fsnotify.Event{Name: path, Op: fsnotify.Chmod}, true},
		{"catalog removed", fsnotify.Event{Name: path, Op: fsnotify.Remove}, true},
		{"editor swap file", fsnotify.Event{Name: "/etc/attendance/.subjects.yaml.swp", Op: fsnotify.Write}, true},
		{"sibling file", fsnotify.Event{Name: "/etc/attendance/other.yaml", Op: fsnotify.Write}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldIgnoreSubjectsEvent(tt.event, path); got != tt.want {
				t.Errorf("shouldIgnoreSubjectsEvent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func writeCatalog(t *testing.T, path, name string) {
	t.Helper()
	data := "subjects:\n  - abbr: toc\n    code: AD-501\n    name: " + name + "\n  - abbr: ML\n    name: Machine Learning\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
}

func TestSyncSubjects_UpsertsCatalog(t *testing.T) {
	_, _, _, store := mock.NewBackend(4)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "subjects.yaml")

	writeCatalog(t, path, "Theory of Computation")
	n, err := syncSubjects(ctx, store, path)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 subjects, got %d", n)
	}

	writeCatalog(t, path, "Automata Theory")
	if _, err := syncSubjects(ctx, store, path); err != nil {
		t.Fatalf("resync: %v", err)
	}

	subjects, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subjects) != 2 {
		t.Fatalf("expected 2 subjects after resync, got %d", len(subjects))
	}
	if subjects[1].Abbr != "TOC" || subjects[1].Name != "Automata Theory" {
		t.Errorf("expected TOC renamed, got %+v", subjects[1])
	}
}

func TestSyncSubjects_BuiltInCatalog(t *testing.T) {
	_, _, _, store := mock.NewBackend(4)
	n, err := syncSubjects(context.Background(), store, "")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if n == 0 {
		t.Error("expected the built-in catalog to hold subjects")
	}
}

func TestSyncSubjects_InvalidFile(t *testing.T) {
	_, _, _, store := mock.NewBackend(4)
	path := filepath.Join(t.TempDir(), "subjects.yaml")
	if err := os.WriteFile(path, []byte("subjects:\n  - code: X\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := syncSubjects(context.Background(), store, path); err == nil {
		t.Error("expected an error for a subject without abbr and name")
	}
}

func TestWatchSubjects_ResyncsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subjects.yaml")
	writeCatalog(t, path, "Theory of Computation")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resynced := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- watchSubjects(ctx, path, 10*time.Millisecond, io.Discard, io.Discard, func(context.Context) error {
			select {
			case resynced <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	// The watcher may not be registered yet, so keep touching the file.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for waiting := true; waiting; {
		select {
		case <-resynced:
			waiting = false
		case <-tick.C:
			writeCatalog(t, path, "Automata Theory")
		case <-deadline:
			t.Fatal("catalog change did not trigger a resync")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("watchSubjects returned %v", err)
	}
}
