package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/whisper/chat-client/internal/chaterr"
	"github.com/whisper/chat-client/internal/client"
)

var openCmd = &cobra.Command{
	Use:   "open <chat-id>",
	Short: "Open a live view of a chat; each input line is sent",
	Long: `Open a live view of a chat. The history is printed, new messages are
streamed as they arrive and every line typed is sent to the chat.

Commands:
  /quit                 leave
  /reload               select the chat again and reprint the history
  /edit <id> <text>     replace the text of a message
  /delete <id>          delete a message`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app, out io.Writer) error {
			return runOpen(ctx, a.ctrl, args[0], cmd.InOrStdin(), out)
		})(cmd, args)
	},
}

// printer writes each message of the active chat once, in display order.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]struct{}
	chatID  string
	channel string
	empty   bool // "(no messages)" already printed for chatID
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, printed: make(map[string]struct{})}
}

func (p *printer) reset() {
	p.mu.Lock()
	p.printed = make(map[string]struct{})
	p.empty = false
	p.mu.Unlock()
}

func (p *printer) update(v client.View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v.ChatID != p.chatID {
		p.chatID = v.ChatID
		p.printed = make(map[string]struct{})
		p.empty = false
	}
	if v.Channel != p.channel {
		if p.channel != "" {
			fmt.Fprintf(p.out, "-- %s\n", v.Channel)
		}
		p.channel = v.Channel
	}
	if v.Loaded && len(v.Messages) == 0 && !p.empty {
		p.empty = true
		fmt.Fprintln(p.out, "(no messages)")
	}
	for _, m := range v.Messages {
		if _, ok := p.printed[m.ID]; ok {
			continue
		}
		p.printed[m.ID] = struct{}{}
		fmt.Fprintln(p.out, formatMessage(m))
	}
}

func runOpen(ctx context.Context, ctrl *client.Controller, chatID string, in io.Reader, out io.Writer) error {
	p := newPrinter(out)
	ctrl.OnChange(p.update)

	if err := ctrl.SelectChat(ctx, chatID); err != nil {
		if fatalSelectError(err) {
			return err
		}
		fmt.Fprintln(out, "-- history unavailable; /reload to retry")
	}
	fmt.Fprintf(out, "-- joined %s; type a message, /quit to leave\n", chatID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit := handleLine(ctx, ctrl, p, chatID, line, out)
			if quit {
				return nil
			}
		}
	}
}

// fatalSelectError reports whether a failed selection leaves nothing to
// interact with. Other failures were already reported by the notifier.
func fatalSelectError(err error) bool {
	return chaterr.IsValidation(err) || errors.Is(err, chaterr.ErrNoToken) || errors.Is(err, client.ErrClosed)
}

// handleLine runs one input line. Errors are already reported by the
// controller's notifier, so they are not returned. It reports whether the
// user asked to quit.
func handleLine(ctx context.Context, ctrl *client.Controller, p *printer, chatID, line string, out io.Writer) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		_ = ctrl.Send(ctx, line)
		return false
	}

	fields := strings.Fields(trimmed)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/reload":
		p.reset()
		_ = ctrl.SelectChat(ctx, chatID)
	case "/edit":
		if len(fields) < 3 {
			fmt.Fprintln(out, "usage: /edit <id> <text>")
			return false
		}
		rest := strings.TrimSpace(trimmed[len(fields[0]):])
		text := strings.TrimSpace(rest[len(fields[1]):])
		if err := ctrl.EditMessage(ctx, fields[1], text); err == nil {
			fmt.Fprintln(out, "edited; /reload to see the change")
		}
	case "/delete":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: /delete <id>")
			return false
		}
		if err := ctrl.DeleteMessage(ctx, fields[1]); err == nil {
			fmt.Fprintln(out, "deleted; /reload to see the change")
		}
	default:
		fmt.Fprintf(out, "unknown command %s\n", fields[0])
	}
	return false
}
