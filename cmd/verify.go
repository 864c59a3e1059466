package cmd

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check stored face encodings for corruption",
	Long: `Decode every stored face encoding and report the ones that do not hold
EMBEDDING_DIM finite values. Malformed encodings are skipped during matching;
use --delete to remove the affected identities and their attendance.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().Bool("delete", false, "Delete identities whose encoding is malformed")
	verifyCmd.Flags().Bool("json", false, "Output the malformed encodings as JSON")
}

type storedEncoding struct {
	ref  database.Ref
	blob []byte
}

// MalformedEncoding describes one identity whose stored encoding failed to decode.
type MalformedEncoding struct {
	Role    database.Role `json:"role"`
	ID      string        `json:"id"`
	Bytes   int           `json:"bytes"`
	Problem string        `json:"problem"`
	Deleted bool          `json:"deleted"`
}

// checkEncoding reports why blob is not a valid embedding of dim values,
// or "" when it is.
func checkEncoding(blob []byte, dim int) string {
	e, err := biometric.Decode(blob, dim)
	if err == nil {
		err = e.Validate(dim)
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func runVerify(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	deleteBad := mustGetBool(cmd, "delete")

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

	scanner, ok := backend.Identities.(database.EncodingScanner)
	if !ok {
		return fmt.Errorf("%s backend cannot scan raw encodings", cfg.Database.Driver)
	}

	// Collect everything before deleting: some drivers hold a single
	// connection that stays busy until the scan finishes.
	var stored []storedEncoding
	err = scanner.ScanEncodings(ctx, func(ref database.Ref, blob []byte) error {
		stored = append(stored, storedEncoding{ref: ref, blob: slices.Clone(blob)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning encodings: %w", err)
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(stored),
			progressbar.OptionSetDescription("Verifying encodings"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("faces"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	var malformed []MalformedEncoding
	for _, s := range stored {
		if problem := checkEncoding(s.blob, cfg.Embedding.Dim); problem != "" {
			malformed = append(malformed, MalformedEncoding{
				Role:    s.ref.Role,
				ID:      s.ref.ID,
				Bytes:   len(s.blob),
				Problem: problem,
			})
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}

	var deleteErrs int
	if deleteBad {
		for i := range malformed {
			ref := database.Ref{Role: malformed[i].Role, ID: malformed[i].ID}
			if err := backend.Identities.Delete(ctx, ref); err != nil {
				deleteErrs++
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to delete %s: %v\n", ref, err)
				continue
			}
			malformed[i].Deleted = true
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if malformed == nil {
			malformed = []MalformedEncoding{}
		}
		return enc.Encode(malformed)
	}

	fmt.Printf("Checked %d encodings, %d malformed\n", len(stored), len(malformed))
	for _, m := range malformed {
		status := ""
		if m.Deleted {
			status = " [deleted]"
		}
		fmt.Printf("  %s/%s: %s%s\n", m.Role, m.ID, m.Problem, status)
	}
	if len(malformed) > 0 && !deleteBad {
		fmt.Println("Run with --delete to remove these identities")
	}
	if deleteErrs > 0 {
		return fmt.Errorf("%d identities could not be deleted", deleteErrs)
	}
	return nil
}
