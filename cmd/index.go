package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/matching"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the face HNSW index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the face HNSW index and save it to disk",
	Long: `Load every stored face embedding, build the HNSW graph used by
MATCHER=hnsw and save it, so that serve starts without rebuilding.`,
	Args: cobra.NoArgs,
	RunE: runIndexBuild,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexBuildCmd)

	indexBuildCmd.Flags().String("path", "", "Index file (overrides HNSW_INDEX_PATH)")
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := mustGetString(cmd, "path")
	if path == "" {
		path = cfg.Matching.HNSWIndexPath
	}
	if path == "" {
		return errors.New("no index path: set HNSW_INDEX_PATH or --path")
	}

	ctx := cmd.Context()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	start := time.Now()
	index := matching.NewHNSWIndex(path)
	if err := index.Build(ctx, backend.Identities); err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	if err := index.Save(); err != nil {
		return fmt.Errorf("saving index: %w", err)
	}
	fmt.Printf("Saved HNSW index with %d faces to %s in %s\n", index.Len(), path, time.Since(start).Round(time.Millisecond))
	return nil
}
