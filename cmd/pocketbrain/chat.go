package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/go-go-golems/pocketbrain/pkg/assistant"
	"github.com/go-go-golems/pocketbrain/pkg/events"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const chatHelp = `Commands:
  /new            start a new chat
  /chats          list stored chats
  /load <id>      open a stored chat
  /delete <id>    delete a stored chat
  /regen          answer the last question again
  /tool <name>    answer the next messages with a tool
  /notool         stop using the selected tool
  /state          show the session state
  /quit           leave
Ctrl-C stops the answer being generated.`

// printedEvents are the events the terminal printer shows.
var printedEvents = []events.EventType{
	events.EventTypeSnapshot,
	events.EventTypeFinal,
	events.EventTypeToolCall,
	events.EventTypeToolResult,
	events.EventTypeInterrupt,
	events.EventTypeError,
}

func newChatCommand() *cobra.Command {
	var showThoughts bool
	var printRawEvents bool

	cmd := &cobra.Command{
		Use:   "chat [chat-id]",
		Short: "Chat with the assistant, optionally continuing a stored chat",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := openApp(ctx, settings, settingsViper.GetBool("verbose"))
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(context.Background()); err != nil {
					log.Error().Err(err).Msg("Could not close assistant")
				}
			}()

			out := cmd.OutOrStdout()
			if printRawEvents {
				a.router.AddHandler("raw-events", events.TopicChat, a.router.DumpRawEvents(out))
			} else {
				printer := events.NewStreamPrinter(out)
				printer.ShowThoughts = showThoughts
				a.router.HandleEvents("printer", events.TopicChat, func(_ context.Context, ev events.Event) error {
					return printer.PublishEvent(ev)
				}, printedEvents...)
			}

			if len(args) == 1 {
				if err := a.assistant.LoadChat(ctx, args[0]); err != nil {
					return err
				}
				for _, m := range a.assistant.Chat().Messages() {
					fmt.Fprintln(out, m.View())
				}
			}

			eg, gctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return a.router.Run(gctx)
			})
			eg.Go(func() error {
				defer cancel()
				select {
				case <-a.router.Running():
				case <-gctx.Done():
					return nil
				}
				r := &repl{in: cmd.InOrStdin(), out: out, svc: a.assistant}
				return r.run(gctx)
			})
			return eg.Wait()
		},
	}

	cmd.Flags().BoolVar(&showThoughts, "show-thoughts", false, "Print the model's thinking while it streams")
	cmd.Flags().BoolVar(&printRawEvents, "print-raw-events", false, "Print raw generation events as JSON")
	return cmd
}

type repl struct {
	in  io.Reader
	out io.Writer
	svc *assistant.Service
}

func (r *repl) run(ctx context.Context) error {
	fmt.Fprintln(r.out, "Type a message, or /help.")
	scanner := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, "error:", err)
			}
			if quit {
				return nil
			}
			continue
		}

		h, err := r.svc.SendMessage(ctx, line)
		if err != nil {
			fmt.Fprintln(r.out, "error:", err)
			continue
		}
		r.wait(ctx, h)
	}
}

// wait blocks until h is done. Ctrl-C cancels the generation instead of
// the whole program.
func (r *repl) wait(ctx context.Context, h *assistant.ExecutionHandle) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	select {
	case <-h.Done():
	case <-sigCtx.Done():
		h.Cancel()
	}
	if _, err := h.Wait(); err != nil {
		fmt.Fprintln(r.out, "error:", err)
	}
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Fprintln(r.out, chatHelp)

	case "/new":
		return false, r.svc.NewChat()

	case "/chats":
		chats, err := r.svc.ListChats(ctx)
		if err != nil {
			return false, err
		}
		for _, c := range chats {
			fmt.Fprintf(r.out, "%s  %s  %s (%d messages)\n", c.ID, c.Timestamp.Format("2006-01-02 15:04"), c.Title, c.MessageCount)
		}

	case "/load":
		if arg == "" {
			return false, fmt.Errorf("usage: /load <id>")
		}
		if err := r.svc.LoadChat(ctx, arg); err != nil {
			return false, err
		}
		for _, m := range r.svc.Chat().Messages() {
			fmt.Fprintln(r.out, m.View())
		}

	case "/delete":
		if arg == "" {
			return false, fmt.Errorf("usage: /delete <id>")
		}
		ok, err := confirm(fmt.Sprintf("Delete chat %s?", arg))
		if err != nil || !ok {
			return false, err
		}
		found, err := r.svc.DeleteChat(ctx, arg)
		if err != nil {
			return false, err
		}
		if !found {
			fmt.Fprintln(r.out, "no such chat")
		}

	case "/regen":
		messages := r.svc.Chat().Messages()
		if len(messages) == 0 {
			return false, assistant.ErrNothingToAnswer
		}
		h, err := r.svc.Regenerate(ctx, messages[len(messages)-1].ID)
		if err != nil {
			return false, err
		}
		r.wait(ctx, h)

	case "/tool":
		if arg == "" {
			return false, fmt.Errorf("usage: /tool <name>")
		}
		return false, r.svc.SelectTool(arg)

	case "/notool":
		r.svc.ClearTool()

	case "/state":
		fmt.Fprintln(r.out, r.svc.State())

	default:
		return false, fmt.Errorf("unknown command %s, try /help", fields[0])
	}
	return false, nil
}
