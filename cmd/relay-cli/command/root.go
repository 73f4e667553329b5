package command

// root.go defines the root command for relay-cli and its global flags.

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var noColor bool // global flag, plain output for logs and pipes

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relay-cli",
	Short: "relay-cli - chat relay command line client",
	Long: `relay-cli connects to a chat relay server and lets you talk to every other
connected client. Lines you type are broadcast; lines from others are printed
as they arrive.

Use "relay-cli command --help" to see all available commands.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err) // Print error to standard error
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")
}
