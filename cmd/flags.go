package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// mustGet reads a flag through getter or panics if the flag doesn't exist.
// Flags are defined in init(), so an error here is a programming bug.
func mustGet[T any](name string, getter func(string) (T, error)) T {
	val, err := getter(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	return mustGet(name, cmd.Flags().GetBool)
}

func mustGetInt(cmd *cobra.Command, name string) int {
	return mustGet(name, cmd.Flags().GetInt)
}

func mustGetString(cmd *cobra.Command, name string) string {
	return mustGet(name, cmd.Flags().GetString)
}

func mustGetDuration(cmd *cobra.Command, name string) time.Duration {
	return mustGet(name, cmd.Flags().GetDuration)
}
