package deadletter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Schema creates the dead_letters table.
const Schema = `CREATE TABLE IF NOT EXISTS dead_letters (
	id            BIGSERIAL PRIMARY KEY,
	topic         TEXT NOT NULL,
	msg_partition INTEGER NOT NULL,
	msg_offset    BIGINT NOT NULL,
	msg_key       BYTEA,
	payload       BYTEA NOT NULL,
	reason        TEXT NOT NULL,
	attempts      INTEGER NOT NULL,
	failed_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (topic, msg_partition, msg_offset)
)`

// PostgresStore keeps dead letters in the dead_letters table.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "deadletter-postgres"),
	}
}

// Record inserts e; an entry already recorded for the same message is left
// as it is.
func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (topic, msg_partition, msg_offset, msg_key, payload, reason, attempts, failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (topic, msg_partition, msg_offset) DO NOTHING`,
		e.Topic, e.Partition, e.Offset, e.Key, e.Payload, e.Reason, e.Attempts, e.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("recording dead letter %s: %w", e.id(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Debug("dead letter already recorded", "entry", e.id())
	}
	return nil
}

// List returns the most recent entries first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT topic, msg_partition, msg_offset, msg_key, payload, reason, attempts, failed_at
		 FROM dead_letters ORDER BY failed_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Topic, &e.Partition, &e.Offset, &e.Key, &e.Payload, &e.Reason, &e.Attempts, &e.FailedAt); err != nil {
			return nil, fmt.Errorf("scanning dead letter row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
