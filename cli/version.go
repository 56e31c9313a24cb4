package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"switchyard.dev/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version and build information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("switchyard %s (%s)\n", version.Gateway(), version.Runtime())
	},
}
