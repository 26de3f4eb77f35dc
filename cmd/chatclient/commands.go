package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/whisper/chat-client/internal/protocol"
)

// withApp runs fn with a wired app and a context cancelled on SIGINT/SIGTERM.
func withApp(fn func(ctx context.Context, a *app, out io.Writer) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, cmd.OutOrStdout())
	}
}

// readSecret returns flagValue, or reads one line from in when it is empty.
func readSecret(in io.Reader, out io.Writer, prompt, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read %s: %w", strings.TrimSpace(strings.TrimSuffix(prompt, ":")), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var (
	flagEmail    string
	flagPassword string
	flagUsername string
	flagActive   bool
	flagArchived bool
	flagLimit    int
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the tokens for the current profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ", flagPassword)
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app, out io.Writer) error {
			if err := a.ctrl.Login(ctx, flagEmail, password); err != nil {
				return err
			}
			fmt.Fprintf(out, "logged in as %s (profile %s)\n", flagEmail, cfg.Profile)
			return nil
		})(cmd, args)
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ", flagPassword)
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app, out io.Writer) error {
			id, err := a.ctrl.Register(ctx, flagEmail, password, flagUsername)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "registered %s (id %s); run login to sign in\n", flagUsername, id)
			return nil
		})(cmd, args)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored tokens",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer) error {
		if err := a.ctrl.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "logged out")
		return nil
	}),
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List chats",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer) error {
		var (
			chats []protocol.Chat
			err   error
		)
		if flagActive {
			chats, err = a.ctrl.ListActiveChats(ctx)
		} else {
			chats, err = a.ctrl.ListChats(ctx)
		}
		if err != nil {
			return err
		}
		printChats(out, chats)
		return nil
	}),
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a chat",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.Join(args, " ")
		return withApp(func(ctx context.Context, a *app, out io.Writer) error {
			chat, err := a.ctrl.CreateChat(ctx, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "created %s\t%s\n", chat.ID, sanitize(chat.Name))
			return nil
		})(cmd, args)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <chat-id>",
	Short: "Delete a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app, out io.Writer) error {
			if err := a.ctrl.DeleteChat(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted %s\n", args[0])
			return nil
		})(cmd, args)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <chat-id>",
	Short: "Print the history of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app, out io.Writer) error {
			var (
				msgs []protocol.Message
				err  error
			)
			if flagArchived {
				if a.archive == nil {
					return fmt.Errorf("--archived needs --archive-dsn")
				}
				msgs, err = a.archive.Recent(ctx, args[0], flagLimit)
			} else {
				msgs, err = a.ctrl.History(ctx, args[0])
			}
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Fprintln(out, "(no messages)")
			}
			for _, m := range msgs {
				fmt.Fprintln(out, formatMessage(m))
			}
			return nil
		})(cmd, args)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the backend is reachable",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer) error {
		if err := a.ctrl.Health(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s is healthy\n", cfg.BaseURL)
		return nil
	}),
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVar(&flagEmail, "email", "", "account email")
		c.Flags().StringVar(&flagPassword, "password", "", "account password (prompted when empty)")
	}
	registerCmd.Flags().StringVar(&flagUsername, "username", "", "display name")
	chatsCmd.Flags().BoolVar(&flagActive, "active", false, "only chats with connected members")
	historyCmd.Flags().BoolVar(&flagArchived, "archived", false, "read from the local archive instead of the backend")
	historyCmd.Flags().IntVar(&flagLimit, "limit", 50, "maximum archived messages to print")
}
