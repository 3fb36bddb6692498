package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openjustice/entitygraph/internal/entity"
	"github.com/openjustice/entitygraph/internal/store"
)

func init() {
	rootCmd.AddCommand(graphsCmd)
}

var graphsCmd = &cobra.Command{
	Use:   "graphs [snapshot.db] [top-level-key]",
	Short: "List or dump graphs in a persisted snapshot",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := args[0]

		keys, err := store.ListGraphs(dbPath)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			for _, k := range keys {
				fmt.Printf("%s\t%s\n", k.Source, k.TopKey)
			}
			return nil
		}

		topKey := args[1]
		for _, k := range keys {
			if k.TopKey != topKey {
				continue
			}
			g, err := store.LoadGraph(dbPath, k.Source, k.TopKey)
			if err != nil {
				return err
			}
			dumpGraph(g)
			return nil
		}
		return fmt.Errorf("no graph with top-level key %q in %s", topKey, dbPath)
	},
}

func dumpGraph(g *entity.Graph) {
	depths := make(map[string]int)
	g.Walk(func(parent *entity.Instance, edge string, in *entity.Instance) {
		depth := 0
		if parent != nil {
			depth = depths[parent.UID()] + 1
		}
		depths[in.UID()] = depth

		indent := ""
		for i := 0; i < depth; i++ {
			indent += "  "
		}
		id := in.Type()
		if in.Keyed() {
			id += "(" + in.Key() + ")"
		}
		fmt.Printf("%s%s", indent, id)
		for _, name := range in.AttrNames() {
			v, _ := in.Attr(name)
			fmt.Printf(" %s=%q", name, v)
		}
		if recs := g.Provenance().Records(in.UID()); len(recs) > 0 {
			fmt.Printf(" records=%v", recs)
		}
		fmt.Println()
	})
}
