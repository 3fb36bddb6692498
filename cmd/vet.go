package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/openjustice/entitygraph/internal/mapping"
	"github.com/openjustice/entitygraph/internal/schema"
)

func init() {
	rootCmd.AddCommand(vetCmd)
}

var vetCmd = &cobra.Command{
	Use:   "vet [source...]",
	Short: "Validate mapping specs against the schema without building anything",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := schema.Load(schemaPath)
		if err != nil {
			return fmt.Errorf("load schema: %w", err)
		}
		registry := mapping.NewRegistry(osfs.New(specsDir), slog.Default())

		bad := 0
		for _, source := range args {
			spec, err := registry.Load(source)
			if err != nil {
				fmt.Printf("%s: %v\n", source, err)
				bad++
				continue
			}
			var ise *mapping.InvalidSpecError
			switch err := mapping.Validate(spec, g); {
			case err == nil:
				top, key, _ := mapping.TopLevel(spec, g)
				fmt.Printf("%s: ok (top-level %s keyed by %s)\n", source, top, key)
			case errors.As(err, &ise):
				fmt.Printf("%s: %d problem(s)\n", source, len(ise.Problems))
				for _, p := range ise.Problems {
					fmt.Printf("  - %s\n", p)
				}
				bad++
			default:
				return err
			}
		}
		if bad > 0 {
			return fmt.Errorf("%d spec(s) failed validation", bad)
		}
		return nil
	},
}
