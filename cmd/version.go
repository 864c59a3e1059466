package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/spf13/cobra"
)

// Release builds stamp these through -ldflags -X.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build and embedding format details",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeVersion(cmd.OutOrStdout(), currentVersion(), mustGetBool(cmd, "json"))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().Bool("json", false, "Output as JSON")
}

type versionInfo struct {
	Version      string `json:"version"`
	Commit       string `json:"commit"`
	Built        string `json:"built"`
	GoVersion    string `json:"go_version"`
	EmbeddingDim int    `json:"default_embedding_dim"`
}

// currentVersion falls back to the VCS stamp of module builds for values
// -ldflags left unset.
func currentVersion() versionInfo {
	v := versionInfo{
		Version:      Version,
		Commit:       CommitSHA,
		Built:        BuildDate,
		GoVersion:    runtime.Version(),
		EmbeddingDim: biometric.Dim,
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	for _, s := range info.Settings {
		switch {
		case s.Key == "vcs.revision" && v.Commit == "unknown":
			v.Commit = s.Value
		case s.Key == "vcs.time" && v.Built == "unknown":
			v.Built = s.Value
		}
	}
	return v
}

func writeVersion(out io.Writer, v versionInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	fmt.Fprintf(out, "face-attendance %s (%s)\n", v.Version, v.GoVersion)
	fmt.Fprintf(out, "  Commit:    %s\n", v.Commit)
	fmt.Fprintf(out, "  Built:     %s\n", v.Built)
	fmt.Fprintf(out, "  Encodings: %d float64 values, little-endian\n", v.EmbeddingDim)
	return nil
}
