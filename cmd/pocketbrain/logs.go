package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/go-go-golems/pocketbrain/pkg/brain/applog"
	"github.com/spf13/cobra"
)

func newLogsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect the system log kept in the brain file",
	}
	cmd.AddCommand(newLogsListCommand(), newLogsClearCommand())
	return cmd
}

func newLogsListCommand() *cobra.Command {
	var last int
	var level string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print log sessions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBrain(cmd.Context(), func(b *brain) error {
				sessions, err := b.logs.Sessions()
				if err != nil {
					return err
				}
				if last > 0 && len(sessions) > last {
					sessions = sessions[len(sessions)-last:]
				}
				for _, s := range sessions {
					printSession(cmd.OutOrStdout(), s, applog.Level(strings.ToUpper(level)))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&last, "last", 0, "Only print the last n sessions")
	cmd.Flags().StringVar(&level, "level", "", "Only print entries of this level (info, warn, error)")
	return cmd
}

func printSession(w io.Writer, s applog.Session, level applog.Level) {
	end := "running"
	if s.EndTime != nil {
		end = time.UnixMilli(*s.EndTime).Format(time.DateTime)
	}
	fmt.Fprintf(w, "== %s (%s .. %s)\n", s.SessionName, time.UnixMilli(s.StartTime).Format(time.DateTime), end)
	for _, e := range s.Logs {
		if level != "" && e.Level != level {
			continue
		}
		fmt.Fprintf(w, "%s %-5s %s", time.UnixMilli(e.Timestamp).Format(time.TimeOnly), e.Level, e.Message)
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, " %s=%q", k, e.Details[k])
		}
		fmt.Fprintln(w)
	}
}

func newLogsClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every log session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := confirm("Remove all log sessions?")
			if err != nil || !ok {
				return err
			}
			return withBrain(cmd.Context(), func(b *brain) error {
				return b.logs.Clear(cmd.Context())
			})
		},
	}
}
