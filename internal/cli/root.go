// Package cli wires the cobra command tree: serve is both the default
// action and an explicit subcommand.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/modelgate/modelgate/internal/buildinfo"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "modelgate",
	Short: "Multi-backend AI completion gateway",
	Long: "modelgate accepts OpenAI, Anthropic, and Gemini wire formats on one port,\n" +
		"translates between them, and executes against pooled upstream credentials\n" +
		"with automatic fallback.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("modelgate %s", buildinfo.Version)
		if buildinfo.Commit != "" {
			fmt.Printf(" (%s)", buildinfo.Commit)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default ./config.yaml)")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
