package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/openjustice/entitygraph/internal/build"
	"github.com/openjustice/entitygraph/internal/mapping"
	"github.com/openjustice/entitygraph/internal/schema"
	"github.com/openjustice/entitygraph/internal/store"
)

var (
	workers  int
	jsonPath string
)

func init() {
	buildCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent top-level builds (0 = GOMAXPROCS)")
	buildCmd.Flags().StringVarP(&jsonPath, "select", "p", "", "JSONPath row selector for .json extracts, e.g. $.rows[*]")
	rootCmd.AddCommand(buildCmd)
}

var buildCmd = &cobra.Command{
	Use:   "build [source] [extract] [output.db]",
	Short: "Build entity graphs from a source extract and persist the snapshot",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, extract, output := args[0], args[1], args[2]
		logger := slog.Default()

		g, err := schema.Load(schemaPath)
		if err != nil {
			return fmt.Errorf("load schema: %w", err)
		}

		registry := mapping.NewRegistry(osfs.New(specsDir), logger)
		spec, err := registry.LoadValidated(source, g)
		if err != nil {
			return fmt.Errorf("load spec for %s: %w", source, err)
		}

		records, err := readExtract(extract)
		if err != nil {
			return err
		}

		start := time.Now()
		report, err := build.RunBatch(cmd.Context(), g, spec, records,
			build.BatchOptions{Workers: workers, Logger: logger})
		if err != nil {
			return fmt.Errorf("run batch: %w", err)
		}

		_ = os.Remove(output) // Overwrite
		writer, err := store.NewWriter(output)
		if err != nil {
			return err
		}
		defer func() { _ = writer.Close() }()

		var written, conflicted int
		for _, kr := range report.Results {
			if kr.Outcome == build.OutcomeFailed {
				continue
			}
			if err := writer.WriteGraph(source, kr.Key, kr.Graph); err != nil {
				return fmt.Errorf("persist graph %s: %w", kr.Key, err)
			}
			if len(kr.Conflicts) > 0 {
				conflicted++
				if err := writer.WriteConflicts(source, kr.Key, kr.Conflicts); err != nil {
					return fmt.Errorf("persist conflicts %s: %w", kr.Key, err)
				}
			}
			written++
		}

		failed := report.Failed()
		fmt.Printf("Built %d graph(s) from %d record(s) in %v (%d with conflicts, %d failed).\n",
			written, len(records), time.Since(start).Round(time.Millisecond), conflicted, len(failed))
		for _, kr := range failed {
			fmt.Printf("  failed %s %q: %v\n", report.TopLevelType, kr.Key, kr.Err)
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d top-level graph(s) failed", len(failed))
		}
		return nil
	},
}

// readExtract reads rows based on the extract's file extension: .csv,
// .jsonl, or .json with a --select row selector.
func readExtract(path string) ([]build.Record, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open extract: %w", err)
		}
		defer func() { _ = f.Close() }()
		return build.ReadCSV(f)
	case ".jsonl", ".ndjson":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open extract: %w", err)
		}
		defer func() { _ = f.Close() }()
		return build.ReadJSONLines(f)
	case ".json":
		if jsonPath == "" {
			return nil, fmt.Errorf("a .json extract needs --select, e.g. --select '$.rows[*]'")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read extract: %w", err)
		}
		return build.SelectRecords(data, jsonPath)
	default:
		return nil, fmt.Errorf("unsupported extract format %q", ext)
	}
}
