package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/data/pgxutil"
	apperrors "github.com/target/meeting-processor/internal/errors"
)

// PostgresStatusChannel carries status updates over LISTEN/NOTIFY for deployments
// that run the Postgres job store without Redis.
type PostgresStatusChannel struct {
	db *sql.DB
}

var (
	_ core.StatusPublisher  = (*PostgresStatusChannel)(nil)
	_ core.StatusSubscriber = (*PostgresStatusChannel)(nil)
)

// NewPostgresStatusChannel creates a PostgresStatusChannel.
func NewPostgresStatusChannel(db *sql.DB) *PostgresStatusChannel {
	return &PostgresStatusChannel{db: db}
}

// Publish issues pg_notify on topic.
func (c *PostgresStatusChannel) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return errors.New("topic cannot be empty")
	}
	if _, err := c.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, topic, string(payload)); err != nil {
		return fmt.Errorf("pg_notify %s: %w", topic, apperrors.MapDBError(err))
	}
	return nil
}

// Subscribe pins a pooled connection and LISTENs on topic until the subscription is closed.
func (c *PostgresStatusChannel) Subscribe(ctx context.Context, topic string) (core.StatusSubscription, error) {
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("get conn from pool: %w", apperrors.MapDBError(err))
	}

	quoted := pgx.Identifier{topic}.Sanitize()
	if _, err := conn.ExecContext(ctx, "LISTEN "+quoted); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("listen %s: %w", topic, apperrors.MapDBError(err))
	}
	return &pgSubscription{conn: conn, quoted: quoted}, nil
}

type pgSubscription struct {
	conn   *sql.Conn
	quoted string
}

func (s *pgSubscription) Receive(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := pgxutil.RawPgxConn(s.conn, func(pc *pgx.Conn) error {
		n, err := pc.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		payload = []byte(n.Payload)
		return nil
	})
	return payload, err
}

func (s *pgSubscription) Close() error {
	_, unlistenErr := s.conn.ExecContext(context.Background(), "UNLISTEN "+s.quoted)
	return errors.Join(unlistenErr, s.conn.Close())
}
