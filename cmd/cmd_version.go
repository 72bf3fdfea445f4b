package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// versionCmd is the cobra CLI command for the version subcommand
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Squirrels binary version information",
		Run:   cmdVersion,
	}
}

// cmdVersion is the handler for the version subcommand
func cmdVersion(*cobra.Command, []string) {
	fmt.Println(BuildDetails())
}

// BuildDetails returns the build details set via -ldflags
func BuildDetails() string {
	if version == "" {
		return `
Squirrels (unknown version)
For documentation, visit https://github.com/squirrels-analytics/squirrels-sub000

To build with version information please use the Makefile
`
	}

	return fmt.Sprintf(`
Squirrels %v
For documentation, visit https://github.com/squirrels-analytics/squirrels-sub000

Commit SHA-1          : %v
Commit timestamp      : %v
Licensed under the Apache Public License 2.0
`, version, commit, date)
}
