// Deployd accepts LLM app deployment tasks over HTTP, generates the app,
// publishes it to GitHub Pages and reports the result to the evaluation
// callback.
//
// Configuration is loaded from ~/.config/deployd/config.yaml and environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start the server
//	GITHUB_TOKEN=... OPENAI_API_KEY=... ALLOWED_SECRETS=... deployd serve
//
//	# Query a running server
//	deployd status captcha-solver
//	deployd health --server http://localhost:8000
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// serverURL is the base URL of a running deployd server.
	serverURL string
	// configPath overrides the default config file location.
	configPath string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "deployd",
		Short: "LLM app deployment server",
		Long: `deployd accepts deployment tasks, generates a static app with an LLM,
publishes it to GitHub Pages and notifies the evaluation callback.

Run "deployd serve" to start the server. The status and health commands
query a running server.`,
		Version:       version,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "deployd server URL")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newHealthCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "deployd by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
