package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version information for the weft CLI.
// These variables can be overridden at build time via -ldflags.
var (
	// buildVersion is the semantic version of the CLI.
	buildVersion = "0.1.0-dev"

	// buildCommit is an optional git commit hash.
	buildCommit = ""

	// buildDate is an optional build date in ISO-8601.
	buildDate = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		configureColor(cmd)
		fmt.Println("weft", color.New(color.Bold).Sprint(buildVersion))
		if buildCommit != "" {
			fmt.Println("commit:", buildCommit)
		}
		if buildDate != "" {
			fmt.Println("built:", buildDate)
		}
	},
}
