package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-go-golems/pocketbrain/pkg/inference/tools"
	"github.com/spf13/cobra"
)

func newToolsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tools offered to the model",
	}
	cmd.AddCommand(newToolsListCommand())
	return cmd
}

func newToolsListCommand() *cobra.Command {
	var withSchema bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tools and whether they are allowed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBrain(cmd.Context(), func(b *brain) error {
				o, err := newToolOrchestrator(settings, b.memory)
				if err != nil {
					return err
				}
				offered := map[string]bool{}
				for _, d := range o.Definitions() {
					offered[d.Name] = true
				}

				defs := o.Registry().ListTools()
				sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
				w := cmd.OutOrStdout()
				for _, d := range defs {
					mark := "-"
					if offered[tools.WireName(d.Name)] {
						mark = "+"
					}
					fmt.Fprintf(w, "%s %s (%s): %s\n", mark, d.Name, tools.WireName(d.Name), d.Description)
					if withSchema && d.Parameters != nil {
						schema, err := json.MarshalIndent(d.Parameters, "    ", "  ")
						if err != nil {
							return err
						}
						fmt.Fprintf(w, "    %s\n", schema)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&withSchema, "schema", false, "Print the parameter schema of each tool")
	return cmd
}
