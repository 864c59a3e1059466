package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/spf13/cobra"
)

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "Manage the subject catalog",
}

var subjectsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Load the subject catalog into the database",
	Long: `Insert or update every subject of the catalog file in the database.
Without --file the SUBJECTS_FILE catalog is used, or the built-in one when
that is unset. Subjects missing from the file are left in place.

With --watch the command keeps running and resyncs whenever the file changes.`,
	RunE: runSubjectsSync,
}

var subjectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subjects stored in the database",
	RunE:  runSubjectsList,
}

func init() {
	rootCmd.AddCommand(subjectsCmd)
	subjectsCmd.AddCommand(subjectsSyncCmd)
	subjectsCmd.AddCommand(subjectsListCmd)

	subjectsSyncCmd.Flags().String("file", "", "Catalog YAML file (overrides SUBJECTS_FILE)")
	subjectsSyncCmd.Flags().Bool("watch", false, "Resync when the catalog file changes")
	subjectsSyncCmd.Flags().Duration("debounce", 500*time.Millisecond, "Debounce window for batching file changes")
}

// syncSubjects upserts the catalog at path into store and returns how many
// subjects it holds.
func syncSubjects(ctx context.Context, store database.SubjectStore, path string) (int, error) {
	subjects, err := config.LoadSubjects(path)
	if err != nil {
		return 0, err
	}
	for _, s := range subjects {
		if err := store.Upsert(ctx, s); err != nil {
			return 0, fmt.Errorf("saving subject %s: %w", s.Abbr, err)
		}
	}
	return len(subjects), nil
}

func runSubjectsSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := mustGetString(cmd, "file")
	if path == "" {
		path = cfg.Attendance.SubjectsFile
	}
	watch := mustGetBool(cmd, "watch")
	if watch && path == "" {
		return errors.New("--watch needs a catalog file (--file or SUBJECTS_FILE)")
	}

	ctx := cmd.Context()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	out := cmd.OutOrStdout()
	source := path
	if source == "" {
		source = "built-in catalog"
	}
	resync := func(ctx context.Context) error {
		n, err := syncSubjects(ctx, backend.Subjects, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Synced %d subjects from %s\n", n, source)
		return nil
	}
	if err := resync(ctx); err != nil {
		return err
	}
	if !watch {
		return nil
	}
	return watchSubjects(ctx, path, mustGetDuration(cmd, "debounce"), out, cmd.ErrOrStderr(), resync)
}

// watchSubjects calls resync after changes to the file at path settle for
// debounce. It watches the parent directory so that editors replacing the
// file by rename are noticed. Returns when ctx is done.
func watchSubjects(ctx context.Context, path string, debounce time.Duration, out, errOut io.Writer, resync func(context.Context) error) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	fmt.Fprintf(out, "Watching %s for changes...\n", path)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if shouldIgnoreSubjectsEvent(event, path) {
				continue
			}
			if !pending {
				timer.Reset(debounce)
				pending = true
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(errOut, "watch error: %v\n", err)
		case <-timer.C:
			pending = false
			// A half-written file fails to parse; the next write resyncs.
			if err := resync(ctx); err != nil {
				fmt.Fprintf(errOut, "resync failed: %v\n", err)
			}
		}
	}
}

// shouldIgnoreSubjectsEvent reports whether event does not change the
// catalog file at path.
func shouldIgnoreSubjectsEvent(event fsnotify.Event, path string) bool {
	if filepath.Clean(event.Name) != path {
		return true
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0
}

func runSubjectsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	subjects, err := backend.Subjects.List(ctx)
	if err != nil {
		return fmt.Errorf("listing subjects: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(subjects) == 0 {
		fmt.Fprintln(out, "No subjects found")
		return nil
	}
	for _, s := range subjects {
		fmt.Fprintf(out, "%-8s %-10s %s\n", s.Abbr, s.Code, s.Name)
	}
	return nil
}
