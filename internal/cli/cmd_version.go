package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dirigent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("dirigent", Version)
		},
	}
}
