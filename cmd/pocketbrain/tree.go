package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-go-golems/pocketbrain/pkg/brain/tree"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newTreeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Inspect the decrypted brain tree",
	}
	cmd.AddCommand(newTreeDumpCommand(), newTreeOutlineCommand())
	return cmd
}

// yamlNode spells the kind out instead of its number.
type yamlNode struct {
	ID       string      `yaml:"id"`
	Kind     string      `yaml:"kind"`
	Content  string      `yaml:"content,omitempty"`
	Children []*yamlNode `yaml:"children,omitempty"`
}

func toYAMLNode(n *tree.Node) *yamlNode {
	ret := &yamlNode{ID: n.ID, Kind: n.Kind.String(), Content: n.Content}
	for _, c := range n.Children {
		ret.Children = append(ret.Children, toYAMLNode(c))
	}
	return ret
}

func dumpTree(w io.Writer, t *tree.Tree, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(toYAMLNode(t.Root())); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q, use json or yaml", format)
	}
}

func newTreeDumpCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the whole tree, decrypted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBrain(cmd.Context(), func(b *brain) error {
				t, err := b.store.Snapshot()
				if err != nil {
					return err
				}
				return dumpTree(cmd.OutOrStdout(), t, format)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format (json, yaml)")
	return cmd
}

func newTreeOutlineCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "outline",
		Short: "Print node ids and kinds without content",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBrain(cmd.Context(), func(b *brain) error {
				w := cmd.OutOrStdout()
				return b.store.View(func(t *tree.Tree) error {
					t.Walk(func(n *tree.Node, depth int) bool {
						fmt.Fprintf(w, "%*s%s [%s] %d bytes\n", depth*2, "", n.ID, n.Kind, len(n.Content))
						return true
					})
					return nil
				})
			})
		},
	}
}
