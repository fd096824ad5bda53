package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateMapping is returned when inserting a user/thread mapping would
// violate the 1:1 constraint on either side.
var ErrDuplicateMapping = errors.New("user thread mapping already exists")

const pgUniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// CreateUserThread inserts a new user/thread mapping. Callers are expected
// to have checked for an existing mapping first; a concurrent winner shows
// up as ErrDuplicateMapping and should be resolved by re-reading.
func (s *PostgresStore) CreateUserThread(ctx context.Context, userID, threadID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_threads (user_id, thread_id)
		VALUES ($1, $2)
	`, userID, threadID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateMapping
		}
		return fmt.Errorf("insert user thread: %w", err)
	}
	return nil
}

// DeleteUserThread removes the mapping for a user. Deleting a user without
// a mapping is a no-op.
func (s *PostgresStore) DeleteUserThread(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_threads WHERE user_id=$1`, userID)
	if err != nil {
		return fmt.Errorf("delete user thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) ThreadIDByUser(ctx context.Context, userID int64) (int64, bool, error) {
	var threadID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT thread_id FROM user_threads WHERE user_id=$1
	`, userID).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup thread by user: %w", err)
	}
	return threadID, true, nil
}

func (s *PostgresStore) UserIDByThread(ctx context.Context, threadID int64) (int64, bool, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM user_threads WHERE thread_id=$1
	`, threadID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup user by thread: %w", err)
	}
	return userID, true, nil
}

// InsertMessageLink appends one correlation row. Links are never updated or
// deleted; a trigger in the database enforces that.
func (s *PostgresStore) InsertMessageLink(ctx context.Context, link MessageLink) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO message_links (user_id, origin_message_id, mirrored_message_id, sender_type)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, link.UserID, link.OriginMessageID, link.MirroredMessageID, link.SenderType).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert message link: %w", err)
	}
	return id, nil
}

// StaffMessageIDFor resolves the staff-side counterpart of a message as the
// user sees it in their own chat. For a user-sent message that is the
// mirrored copy in the staff thread; for a staff-sent message the user saw
// the mirror, so the counterpart is the staff original. The newest link
// wins, since an edit appends a fresh row for the same origin.
func (s *PostgresStore) StaffMessageIDFor(ctx context.Context, userID, userMessageID int64) (int64, bool, error) {
	var staffMessageID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT CASE WHEN sender_type=$3 THEN mirrored_message_id ELSE origin_message_id END
		FROM message_links
		WHERE user_id=$1
		  AND ((sender_type=$3 AND origin_message_id=$2)
		    OR (sender_type=$4 AND mirrored_message_id=$2))
		ORDER BY id DESC
		LIMIT 1
	`, userID, userMessageID, SenderUser, SenderStaff).Scan(&staffMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup staff counterpart: %w", err)
	}
	return staffMessageID, true, nil
}

// UserMessageIDFor resolves the user-side counterpart of a message inside a
// staff thread. Staff-side message IDs are only unique within their chat,
// so the lookup is scoped through the live mapping for the thread.
func (s *PostgresStore) UserMessageIDFor(ctx context.Context, threadID, staffMessageID int64) (int64, bool, error) {
	var userMessageID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT CASE WHEN m.sender_type=$3 THEN m.origin_message_id ELSE m.mirrored_message_id END
		FROM message_links m
		JOIN user_threads u ON u.user_id = m.user_id
		WHERE u.thread_id=$1
		  AND ((m.sender_type=$3 AND m.mirrored_message_id=$2)
		    OR (m.sender_type=$4 AND m.origin_message_id=$2))
		ORDER BY m.id DESC
		LIMIT 1
	`, threadID, staffMessageID, SenderUser, SenderStaff).Scan(&userMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup user counterpart: %w", err)
	}
	return userMessageID, true, nil
}

// Greeting returns the current greeting text.
func (s *PostgresStore) Greeting(ctx context.Context) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT text_value FROM greeting WHERE id=1`).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read greeting: %w", err)
	}
	return text, nil
}

// SetGreeting replaces the greeting text wholesale.
func (s *PostgresStore) SetGreeting(ctx context.Context, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO greeting (id, text_value)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET text_value=EXCLUDED.text_value, updated_at=NOW()
	`, text)
	if err != nil {
		return fmt.Errorf("set greeting: %w", err)
	}
	return nil
}

// EnsureGreeting seeds the greeting row on first boot without overwriting a
// value an operator already set.
func (s *PostgresStore) EnsureGreeting(ctx context.Context, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO greeting (id, text_value)
		VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING
	`, text)
	if err != nil {
		return fmt.Errorf("seed greeting: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
