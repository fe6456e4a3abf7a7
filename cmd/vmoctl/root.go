package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
	quiet   bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "vmoctl",
	Short: "Exercise and inspect copy-on-write memory object trees",
	Long: `vmoctl drives the vmokit memory-object engine from the command line.
It can run demonstration and stress workloads against an in-process page
arena and report allocation and attribution statistics, which is useful for
eyeballing engine behavior without writing a test.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printInfo writes normal progress output, silenced by --quiet.
func printInfo(format string, args ...any) {
	if quiet {
		return
	}
	fmt.Printf(format, args...)
}

// printVerbose writes extra detail, shown only with --verbose.
func printVerbose(format string, args ...any) {
	if !verbose || quiet {
		return
	}
	fmt.Printf(format, args...)
}

// printJSON renders the final report for the --json output mode.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
