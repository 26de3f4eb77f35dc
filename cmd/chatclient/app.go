package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/whisper/chat-client/internal/api"
	"github.com/whisper/chat-client/internal/archive"
	"github.com/whisper/chat-client/internal/chaterr"
	"github.com/whisper/chat-client/internal/client"
	"github.com/whisper/chat-client/internal/config"
	"github.com/whisper/chat-client/internal/debugserver"
	"github.com/whisper/chat-client/internal/messaging"
	"github.com/whisper/chat-client/internal/ratelimit"
	"github.com/whisper/chat-client/internal/session"
	"github.com/whisper/chat-client/internal/stream"
)

// app holds the wired components for one command invocation.
type app struct {
	tokens  session.TokenStore
	ctrl    *client.Controller
	nats    *messaging.NATSClient
	archive *archive.Store
	debug   *debugserver.Server
	redis   *redis.Client
}

// streamOptions maps the config onto channel options.
func streamOptions(c config.Config) stream.Options {
	opts := stream.DefaultOptions()
	opts.ReconnectBase = c.ReconnectBase
	opts.ReconnectMax = c.ReconnectMax
	opts.MaxRetries = c.MaxRetries
	opts.PingInterval = c.PingInterval
	opts.WriteTimeout = c.WriteTimeout
	return opts
}

// stderrNotifier prints notifications as transient warnings.
func stderrNotifier(w io.Writer) client.Notifier {
	return client.NotifierFunc(func(err error) {
		fmt.Fprintf(w, "! %s error: %v\n", chaterr.Kind(err), err)
	})
}

// sendLimiter shares the send window through Redis when the Redis token
// store is in use, so every process of a profile counts against one limit.
func (a *app) sendLimiter(c config.Config) client.Limiter {
	rule := ratelimit.Rule{Key: ratelimit.RuleSend.Key, Limit: c.SendLimit, Window: c.SendWindow}.ForProfile(c.Profile)
	if c.Store == config.StoreRedis {
		a.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		return ratelimit.NewRedisLimiter(a.redis, rule)
	}
	return ratelimit.NewMemoryLimiter(rule)
}

// newApp wires the token store, REST client and controller, plus the
// optional mirror, archive and debug server. Optional components that fail
// to start are logged and skipped.
func newApp(ctx context.Context) (*app, error) {
	tokens, err := session.Open(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{tokens: tokens}

	var sinks []client.Sink
	if cfg.NATSURL != "" {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Name = "chatclient-" + cfg.Profile
		if nc, err := messaging.NewNATSClient(natsCfg); err != nil {
			log.Warn().Err(err).Msg("[chatclient] event mirror disabled")
		} else {
			a.nats = nc
			sinks = append(sinks, messaging.NewMirror(nc, cfg.Profile))
		}
	}
	if cfg.ArchiveDSN != "" {
		actx, cancel := context.WithTimeout(ctx, 10*time.Second)
		store, err := archive.Open(actx, cfg.ArchiveDSN)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("[chatclient] archive disabled")
		} else {
			a.archive = store
			sinks = append(sinks, store)
		}
	}

	apiClient := api.New(cfg.BaseURL, cfg.StreamURL, cfg.RequestTimeout)
	a.ctrl = client.New(apiClient, tokens, client.Options{
		Notifier: stderrNotifier(os.Stderr),
		Sinks:    sinks,
		Stream:   streamOptions(cfg),
		Limiter:  a.sendLimiter(cfg),
	})

	if cfg.DebugAddr != "" {
		a.debug = debugserver.New(cfg.DebugAddr, a.ctrl.View)
		if _, err := a.debug.Start(); err != nil {
			log.Warn().Err(err).Msg("[chatclient] debug server disabled")
			a.debug = nil
		}
	}
	return a, nil
}

// Close tears everything down in reverse order.
func (a *app) Close() {
	if a.debug != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.debug.Shutdown(ctx)
		cancel()
	}
	if a.ctrl != nil {
		_ = a.ctrl.Close()
	}
	if a.archive != nil {
		_ = a.archive.Close()
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if err := a.tokens.Close(); err != nil {
		log.Warn().Err(err).Msg("[chatclient] close token store")
	}
}
