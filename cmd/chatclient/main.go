// Command chatclient is a terminal client for the chat backend: it signs in,
// lists and manages chats, and opens a live view of one chat that merges the
// history with the websocket stream.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/whisper/chat-client/internal/config"
	"github.com/whisper/chat-client/internal/logging"
)

var cfg = config.FromEnv(config.Default())

var rootCmd = &cobra.Command{
	Use:           "chatclient",
	Short:         "Terminal client for the chat backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		logging.Setup(cfg.LogLevel, os.Stderr)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "REST API base URL")
	flags.StringVar(&cfg.StreamURL, "stream-url", cfg.StreamURL, "websocket base URL (derived from --base-url when empty)")
	flags.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "timeout for each REST call")
	flags.StringVar(&cfg.Profile, "profile", cfg.Profile, "token profile, one per account")
	flags.StringVar(&cfg.Store, "store", cfg.Store, "token store: memory, pebble or redis")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the pebble token store")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for the redis token store")
	flags.IntVar(&cfg.SendLimit, "send-limit", cfg.SendLimit, "messages per window and chat (0 disables throttling)")
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "stream reconnect attempts before giving up (0 disables reconnects)")
	flags.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "mirror events to this NATS server (disabled when empty)")
	flags.StringVar(&cfg.ArchiveDSN, "archive-dsn", cfg.ArchiveDSN, "archive messages to this PostgreSQL DSN (disabled when empty)")
	flags.StringVar(&cfg.DebugAddr, "debug-addr", cfg.DebugAddr, "serve /metrics, /state and /healthz on this address (disabled when empty)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")

	rootCmd.AddCommand(
		loginCmd,
		registerCmd,
		logoutCmd,
		chatsCmd,
		createCmd,
		deleteCmd,
		historyCmd,
		openCmd,
		watchCmd,
		healthCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("[chatclient] command failed")
		os.Exit(1)
	}
}
