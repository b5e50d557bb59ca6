package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/pocketbrain/pkg/brain/memory"
	"github.com/spf13/cobra"
)

func newMemoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage the long-term memory categories",
	}
	cmd.AddCommand(
		newMemoryShowCommand(),
		newMemoryAddCommand(),
		newMemoryRemoveCommand(),
		newMemoryClearCommand(),
	)
	return cmd
}

func newMemoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show [category]",
		Short: "Print the entries of one or all categories",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			categories := memory.Categories()
			if len(args) == 1 {
				c, err := memory.NormalizeCategory(args[0])
				if err != nil {
					return err
				}
				categories = []string{c}
			}
			return withBrain(cmd.Context(), func(b *brain) error {
				w := cmd.OutOrStdout()
				for _, c := range categories {
					entries, err := b.memory.Get(c)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s (%d)\n", c, len(entries))
					for _, e := range entries {
						fmt.Fprintf(w, "  %s  %s  %s\n", e.ID, time.UnixMilli(e.CreatedAt).Format(time.DateOnly), e.Text)
					}
				}
				return nil
			})
		},
	}
}

func newMemoryAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <category> <text...>",
		Short: "Remember something",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBrain(cmd.Context(), func(b *brain) error {
				e, err := b.memory.Append(cmd.Context(), args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), e.ID)
				return nil
			})
		},
	}
}

func newMemoryRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <category> <id>",
		Short: "Forget a single entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBrain(cmd.Context(), func(b *brain) error {
				found, err := b.memory.Remove(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("no entry %s in %s", args[1], args[0])
				}
				return nil
			})
		},
	}
}

func newMemoryClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <category>",
		Short: "Forget every entry of a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := memory.NormalizeCategory(args[0])
			if err != nil {
				return err
			}
			ok, err := confirm(fmt.Sprintf("Forget everything in %s?", c))
			if err != nil || !ok {
				return err
			}
			return withBrain(cmd.Context(), func(b *brain) error {
				return b.memory.Clear(cmd.Context(), c)
			})
		},
	}
}
