package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/matching"
	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <image>",
	Short: "Identify the face in an image file",
	Long: `Extract the face embedding from an image file and report the closest
enrolled identity of the given role.

With --record the image is treated like a kiosk capture: a matched student
gets an attendance mark for --subject today, at most once per day.`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().String("role", string(database.RoleStudent), "Role to search: student, faculty or admin")
	identifyCmd.Flags().String("subject", "", "Subject to record attendance for (defaults to DEFAULT_SUBJECT)")
	identifyCmd.Flags().Bool("record", false, "Record attendance for a matched student")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	role, err := database.ParseRole(mustGetString(cmd, "role"))
	if err != nil {
		return err
	}
	record := mustGetBool(cmd, "record")
	if record && role != database.RoleStudent {
		return fmt.Errorf("--record only applies to students, got role %s", role)
	}

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	emb, err := newEmbedder(a.cfg)
	if err != nil {
		return err
	}
	embedding, err := emb.Extract(ctx, image)
	if err != nil {
		return fmt.Errorf("extract face: %w", err)
	}

	out := cmd.OutOrStdout()
	if !record {
		res, err := a.service.Identify(ctx, embedding, role)
		if err != nil {
			return err
		}
		printResult(out, res, a.cfg.Matching.MatchThreshold)
		return nil
	}

	mark, err := a.service.MarkAttendance(ctx, embedding, mustGetString(cmd, "subject"))
	if err != nil {
		return err
	}
	printResult(out, mark.Match, a.cfg.Matching.MatchThreshold)
	printMark(out, mark)
	return nil
}

func printResult(out io.Writer, res matching.Result, threshold float64) {
	if res.Skipped > 0 {
		fmt.Fprintf(out, "Skipped %d malformed encodings (run 'verify' to inspect)\n", res.Skipped)
	}
	switch res.Outcome {
	case matching.NoCandidates:
		fmt.Fprintln(out, "No enrolled faces to compare against")
	case matching.NoMatch:
		fmt.Fprintf(out, "No match: closest is %s (%s) at distance %.4f, threshold %.2f\n",
			res.Identity.Ref(), res.Identity.Name, res.Distance, threshold)
	case matching.Matched:
		fmt.Fprintf(out, "Matched %s (%s) at distance %.4f\n", res.Identity.Ref(), res.Identity.Name, res.Distance)
	}
}

func printMark(out io.Writer, mark *attendance.Mark) {
	if mark.Record == nil {
		return
	}
	if mark.AlreadyMarked {
		fmt.Fprintf(out, "Already marked for %s on %s at %s\n",
			mark.Subject, mark.Day, mark.Record.RecordedAt.Format("15:04:05"))
		return
	}
	fmt.Fprintf(out, "Recorded %s for %s on %s (record %s)\n",
		mark.Record.Status, mark.Subject, mark.Day, mark.Record.ID)
}
