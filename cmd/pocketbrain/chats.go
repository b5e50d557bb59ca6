package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/pocketbrain/pkg/conversation"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newChatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "Manage the chats stored in the brain file",
	}
	cmd.AddCommand(newChatsListCommand(), newChatsShowCommand(), newChatsDeleteCommand())
	return cmd
}

// withBrain opens the brain file for the duration of fn.
func withBrain(ctx context.Context, fn func(b *brain) error) (err error) {
	b, err := openBrain(ctx, settings)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(b)
}

func newChatsListCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List chats, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBrain(cmd.Context(), func(b *brain) error {
				chats, err := b.index.List(cmd.Context())
				if err != nil {
					return err
				}
				return printChats(cmd.OutOrStdout(), chats, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func printChats(w io.Writer, chats []conversation.Summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(chats)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tMESSAGES\tTITLE")
	for _, c := range chats {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.ID, c.Timestamp.Format(time.DateTime), c.MessageCount, c.Title)
	}
	return tw.Flush()
}

const chatMarkdown = `# {{ .Title }}

_{{ .Updated }}_
{{ range .Messages }}
{{ if eq .Role "user" }}### You{{ else if eq .Role "tool" }}### Tool{{ with .Tool }} {{ .ToolName }}{{ end }}{{ else }}### Assistant{{ end }}
{{ with .Thought }}
> {{ . | trunc 400 | replace "\n" "\n> " }}
{{ end }}
{{ .Text }}
{{ with .Tool }}{{ with .Error }}
**Error:** {{ . }}
{{ end }}{{ end }}
{{- end }}
`

var chatTemplate = template.Must(template.New("chat").Funcs(sprig.TxtFuncMap()).Parse(chatMarkdown))

func renderChat(r *conversation.Record) (string, error) {
	var buf bytes.Buffer
	err := chatTemplate.Execute(&buf, map[string]interface{}{
		"Title":    r.Title,
		"Updated":  time.UnixMilli(r.Timestamp).Format(time.DateTime),
		"Messages": r.Conversations,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func newChatsShowCommand() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a chat as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBrain(cmd.Context(), func(b *brain) error {
				record, err := b.index.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				md, err := renderChat(record)
				if err != nil {
					return err
				}

				if raw || !isatty.IsTerminal(os.Stdout.Fd()) {
					_, err = fmt.Fprint(cmd.OutOrStdout(), md)
					return err
				}
				renderer, err := glamour.NewTermRenderer(
					glamour.WithAutoStyle(),
					glamour.WithWordWrap(100),
				)
				if err != nil {
					return err
				}
				styled, err := renderer.Render(md)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), styled)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print markdown without styling")
	return cmd
}

func newChatsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := confirm(fmt.Sprintf("Delete chat %s?", args[0]))
			if err != nil || !ok {
				return err
			}
			return withBrain(cmd.Context(), func(b *brain) error {
				found, err := b.index.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("no chat %s", args[0])
				}
				_ = b.logs.Info(cmd.Context(), "Chat deleted", map[string]string{"chatId": args[0]})
				return nil
			})
		},
	}
}
