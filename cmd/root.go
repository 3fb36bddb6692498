// Package cmd wires the entitygraph CLI: schema loading, spec validation,
// batch builds and snapshot inspection.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	schemaPath string
	specsDir   string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&schemaPath, "schema", "s", "schema.hcl", "Path to the entity schema")
	rootCmd.PersistentFlags().StringVarP(&specsDir, "specs", "m", "specs", "Directory of per-source mapping specs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

var rootCmd = &cobra.Command{
	Use:   "entitygraph",
	Short: "Entitygraph: schema-driven construction of entity graphs from agency extracts",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
