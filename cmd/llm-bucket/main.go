package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/divyekant/llm-bucket/pkg/llmbucket"
)

var version = "0.1.0"

// errSourcesFailed marks a completed run in which at least one source failed.
var errSourcesFailed = errors.New("sources failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "llm-bucket",
		Short:        "llm-bucket -- sync git, Confluence and Slack content into an LLM knowledge bucket",
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().Bool("json", false, "Output machine-readable JSON")
	root.PersistentFlags().BoolP("quiet", "q", false, "Suppress progress spinners, only output result")
	root.PersistentFlags().String("log-level", "", "Override logging.level from the config file")

	root.AddCommand(syncCmd())
	root.AddCommand(historyCmd())
	return root
}

// exitCode is 2 for configuration errors and 1 for everything else.
func exitCode(err error) int {
	if errors.Is(err, llmbucket.ErrConfig) {
		return 2
	}
	return 1
}
