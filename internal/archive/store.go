// Package archive keeps a PostgreSQL transcript of every message the client
// has displayed. Rows are keyed by message id, so re-archiving a history
// after a reconnect or reselection never creates duplicates.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/whisper/chat-client/internal/chat"
	"github.com/whisper/chat-client/internal/protocol"
)

// DefaultWriteTimeout bounds one archive write triggered by a change event.
const DefaultWriteTimeout = 3 * time.Second

// Store manages archived messages in PostgreSQL.
type Store struct {
	db           *sql.DB
	writeTimeout time.Duration
}

// NewStore creates a store backed by the given database handle. The schema
// must already be migrated.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, writeTimeout: DefaultWriteTimeout}
}

// Open connects to dsn, applies pending migrations and returns a ready store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Msg("[archive] connected")
	return NewStore(db), nil
}

// Save inserts msgs in one transaction. Messages already archived are left
// untouched.
func (s *Store) Save(ctx context.Context, msgs []protocol.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO messages (id, chat_id, content, author_id, author_name, is_edited, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("archive: prepare: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		createdAt := sql.NullTime{Time: m.CreatedAt, Valid: !m.CreatedAt.IsZero()}
		if _, err := stmt.ExecContext(ctx, m.ID, m.ChatID, m.Content, m.AuthorID, m.AuthorName, m.IsEdited, createdAt); err != nil {
			return fmt.Errorf("archive: insert %s: %w", m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

// Recent returns up to limit of the most recently archived messages of a
// chat, oldest first.
func (s *Store) Recent(ctx context.Context, chatID string, limit int) ([]protocol.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT id, chat_id, content, author_id, author_name, is_edited, created_at
		FROM (
			SELECT * FROM messages
			WHERE chat_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: recent: %w", err)
	}
	defer rows.Close()

	msgs := []protocol.Message{}
	for rows.Next() {
		var (
			m         protocol.Message
			createdAt sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Content, &m.AuthorID, &m.AuthorName, &m.IsEdited, &createdAt); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		if createdAt.Valid {
			m.CreatedAt = createdAt.Time.UTC()
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: recent: %w", err)
	}
	return msgs, nil
}

// HandleChange archives the messages carried by history and appended
// events. Failures are logged; the archive never interrupts the view.
func (s *Store) HandleChange(ev chat.ChangeEvent) {
	var msgs []protocol.Message
	switch ev.Kind {
	case chat.ChangeHistory:
		msgs = ev.Messages
	case chat.ChangeAppended:
		if ev.Message != nil {
			msgs = []protocol.Message{*ev.Message}
		}
	}
	if len(msgs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := s.Save(ctx, msgs); err != nil {
		log.Warn().Err(err).Str("chat_id", ev.ChatID).Int("messages", len(msgs)).Msg("[archive] save failed")
	}
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
