package stream

import (
	"time"

	"github.com/rs/zerolog/log"
)

// startHeartbeat sends a websocket ping every interval until stop is closed.
// A failed ping closes the connection so the read loop notices and the
// channel moves on to reconnecting.
func startHeartbeat(c *connection, chatID string, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := c.WritePing(); err != nil {
					log.Debug().Err(err).Str("chat_id", chatID).Msg("[stream] heartbeat ping failed")
					_ = c.Close()
					return
				}
			}
		}
	}()
}
