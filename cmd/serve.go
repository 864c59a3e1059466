package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/web"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Attendance API server.
The server exposes enrollment and reporting endpoints for the admin, and the
identify endpoint and websocket stream used by attendance kiosks.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("seed-subjects", true, "Load the subject catalog when the database has none")
}

// seedSubjects loads the configured catalog into an empty subject store.
func seedSubjects(ctx context.Context, a *app) error {
	existing, err := a.backend.Subjects.List(ctx)
	if err != nil {
		return fmt.Errorf("listing subjects: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	n, err := syncSubjects(ctx, a.backend.Subjects, a.cfg.Attendance.SubjectsFile)
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %d subjects\n", n)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if port := mustGetInt(cmd, "port"); port > 0 {
		a.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		a.cfg.Web.Host = host
	}
	fmt.Printf("Using %s backend with %s matcher\n", a.cfg.Database.Driver, a.cfg.Matching.Matcher)

	if mustGetBool(cmd, "seed-subjects") {
		if err := seedSubjects(cmd.Context(), a); err != nil {
			return err
		}
	}

	emb, err := newEmbedder(a.cfg)
	if err != nil {
		return err
	}

	server := web.NewServer(a.cfg, a.service, a.backend.Subjects, emb)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("\nShutting down...")
		a.saveIndex()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeoutSeconds*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("during shutdown: %w", err)
		}
		return nil
	})

	fmt.Printf("Starting Face Attendance API on http://%s:%d\n", a.cfg.Web.Host, a.cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
