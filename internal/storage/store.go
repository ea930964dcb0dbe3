// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/taskchat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotFound      = errors.New("not found")
	ErrSessionExists = errors.New("session already exists")
	ErrInvalidID     = errors.New("invalid message id")
)

// RoleSystem marks prompt messages that are stored but never shown.
const RoleSystem = "system"

// DefaultTitle names sessions created without a title.
const DefaultTitle = "New conversation"

// WelcomeMessage opens every new session.
const WelcomeMessage = "Hello! I'm your project and task assistant. How can I help?"

// =============================================================================
// STORE
// =============================================================================

// Store persists chat sessions and messages in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// A single connection also keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO metadata(key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(SchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to record schema version: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// =============================================================================
// SESSIONS
// =============================================================================

// CreateSession inserts sess and its welcome message. An empty ID becomes
// "session_<unix seconds.micros>"; an empty title becomes DefaultTitle.
func (s *Store) CreateSession(ctx context.Context, sess model.Session) (model.Session, model.Message, error) {
	now := s.now()
	if sess.ID == "" {
		sess.ID = fmt.Sprintf("session_%d.%06d", now.Unix(), now.Nanosecond()/1000)
	}
	if sess.Title == "" {
		sess.Title = DefaultTitle
	}
	sess.CreatedAt = now.UTC()
	sess.LastActivity = now.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Session{}, model.Message{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions(session_id, title, task_id, created_at, last_activity) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.TaskID, millis(now), millis(now))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return model.Session{}, model.Message{}, fmt.Errorf("%w: %s", ErrSessionExists, sess.ID)
		}
		return model.Session{}, model.Message{}, err
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return model.Session{}, model.Message{}, err
	}

	welcome, err := insertMessage(ctx, tx, rowID, model.RoleAssistant.String(), WelcomeMessage, false, now)
	if err != nil {
		return model.Session{}, model.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Session{}, model.Message{}, err
	}

	sess.MessageCount = 1
	return sess, welcome, nil
}

const sessionColumns = `s.session_id, s.title, s.task_id, s.created_at, s.last_activity,
	(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id AND m.role != 'system')`

func scanSession(row interface{ Scan(...any) error }) (model.Session, error) {
	var (
		sess             model.Session
		created, touched int64
	)
	if err := row.Scan(&sess.ID, &sess.Title, &sess.TaskID, &created, &touched, &sess.MessageCount); err != nil {
		return model.Session{}, err
	}
	sess.CreatedAt = fromMillis(created)
	sess.LastActivity = fromMillis(touched)
	return sess, nil
}

// Session returns the session with the given public id.
func (s *Store) Session(ctx context.Context, sessionID string) (model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return sess, err
}

// Sessions lists all sessions, most recently active first.
func (s *Store) Sessions(ctx context.Context) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions s ORDER BY s.last_activity DESC, s.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

func (s *Store) sessionRowID(ctx context.Context, q querier, sessionID string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM sessions WHERE session_id = ?`, sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return id, err
}

// =============================================================================
// MESSAGES
// =============================================================================

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, q querier, sessionRow int64, role, content string, isRead bool, now time.Time) (model.Message, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO messages(session_id, role, content, created_at, is_read) VALUES (?, ?, ?, ?, ?)`,
		sessionRow, role, content, millis(now), isRead)
	if err != nil {
		return model.Message{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Message{}, err
	}
	if _, err := q.ExecContext(ctx, `UPDATE sessions SET last_activity = ? WHERE id = ?`, millis(now), sessionRow); err != nil {
		return model.Message{}, err
	}
	return model.Message{
		ID:        strconv.FormatInt(id, 10),
		Role:      model.Role(role),
		Content:   content,
		CreatedAt: fromMillis(millis(now)),
		IsRead:    isRead,
	}, nil
}

// AddMessage appends a message to a session. Assistant messages start
// unread; everything else starts read.
func (s *Store) AddMessage(ctx context.Context, sessionID string, role model.Role, content string) (model.Message, error) {
	row, err := s.sessionRowID(ctx, s.db, sessionID)
	if err != nil {
		return model.Message{}, err
	}
	return insertMessage(ctx, s.db, row, role.String(), content, role != model.RoleAssistant, s.now())
}

// AddSystemMessage stores a prompt message that is sent to the model but
// never listed.
func (s *Store) AddSystemMessage(ctx context.Context, sessionID, content string) error {
	row, err := s.sessionRowID(ctx, s.db, sessionID)
	if err != nil {
		return err
	}
	_, err = insertMessage(ctx, s.db, row, RoleSystem, content, true, s.now())
	return err
}

// SetContent overwrites a message's content.
func (s *Store) SetContent(ctx context.Context, messageID, content string) error {
	id, err := parseID(messageID)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

// DeleteMessage removes one message.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	id, err := parseID(messageID)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

// Message returns one message and the public id of its session.
func (s *Store) Message(ctx context.Context, messageID string) (model.Message, string, error) {
	id, err := parseID(messageID)
	if err != nil {
		return model.Message{}, "", err
	}
	var (
		msg       model.Message
		sessionID string
		role      string
		created   int64
		rowID     int64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT m.id, m.role, m.content, m.created_at, m.is_read, s.session_id
		FROM messages m JOIN sessions s ON s.id = m.session_id
		WHERE m.id = ?`, id).Scan(&rowID, &role, &msg.Content, &created, &msg.IsRead, &sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, "", fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return model.Message{}, "", err
	}
	msg.ID = strconv.FormatInt(rowID, 10)
	msg.Role = model.Role(role)
	msg.CreatedAt = fromMillis(created)
	return msg, sessionID, nil
}

// Messages lists the visible (user and assistant) messages of a session in
// order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]model.Message, error) {
	return s.queryMessages(ctx, sessionID, `role != 'system'`, -1)
}

// History returns the last n messages of a session including system
// prompts, oldest first, for building a model prompt.
func (s *Store) History(ctx context.Context, sessionID string, n int) ([]model.Message, error) {
	return s.queryMessages(ctx, sessionID, `1 = 1`, n)
}

func (s *Store) queryMessages(ctx context.Context, sessionID, filter string, limit int) ([]model.Message, error) {
	row, err := s.sessionRowID(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, created_at, is_read FROM (
			SELECT id, role, content, created_at, is_read FROM messages
			WHERE session_id = ? AND `+filter+`
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, row, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var (
			id      int64
			role    string
			created int64
			msg     model.Message
		)
		if err := rows.Scan(&id, &role, &msg.Content, &created, &msg.IsRead); err != nil {
			return nil, err
		}
		msg.ID = strconv.FormatInt(id, 10)
		msg.Role = model.Role(role)
		msg.CreatedAt = fromMillis(created)
		out = append(out, msg)
	}
	return out, rows.Err()
}

func parseID(messageID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(messageID), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, messageID)
	}
	return id, nil
}

// =============================================================================
// READ STATE
// =============================================================================

// MarkRead marks the given messages of a session read and returns how many
// changed. Ids that are malformed or belong elsewhere are ignored.
func (s *Store) MarkRead(ctx context.Context, sessionID string, messageIDs []string) (int, error) {
	row, err := s.sessionRowID(ctx, s.db, sessionID)
	if err != nil {
		return 0, err
	}

	args := []any{row}
	marks := make([]string, 0, len(messageIDs))
	for _, raw := range messageIDs {
		id, err := parseID(raw)
		if err != nil {
			continue
		}
		args = append(args, id)
		marks = append(marks, "?")
	}
	if len(marks) == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1 WHERE session_id = ? AND is_read = 0 AND id IN (`+strings.Join(marks, ",")+`)`,
		args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// MarkSessionRead marks every message of a session read.
func (s *Store) MarkSessionRead(ctx context.Context, sessionID string) (int, error) {
	row, err := s.sessionRowID(ctx, s.db, sessionID)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read = 1 WHERE session_id = ? AND is_read = 0`, row)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// MarkAllRead marks every message of every session read.
func (s *Store) MarkAllRead(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read = 1 WHERE is_read = 0`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// UnreadCount returns the number of unread messages in a session.
func (s *Store) UnreadCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m JOIN sessions s ON s.id = m.session_id
		WHERE s.session_id = ? AND m.is_read = 0`, sessionID).Scan(&n)
	return n, err
}

// SessionUnread summarises unread messages of one session.
type SessionUnread struct {
	Session         model.Session
	UnreadCount     int
	LastMessageTime time.Time
}

// UnreadBySession lists sessions that have unread messages, most recent
// unread first.
func (s *Store) UnreadBySession(ctx context.Context) ([]SessionUnread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`, COUNT(u.id), MAX(u.created_at)
		FROM sessions s JOIN messages u ON u.session_id = s.id AND u.is_read = 0
		GROUP BY s.id
		ORDER BY MAX(u.created_at) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionUnread
	for rows.Next() {
		var (
			su               SessionUnread
			created, touched int64
			last             int64
		)
		if err := rows.Scan(&su.Session.ID, &su.Session.Title, &su.Session.TaskID, &created, &touched,
			&su.Session.MessageCount, &su.UnreadCount, &last); err != nil {
			return nil, err
		}
		su.Session.CreatedAt = fromMillis(created)
		su.Session.LastActivity = fromMillis(touched)
		su.LastMessageTime = fromMillis(last)
		out = append(out, su)
	}
	return out, rows.Err()
}
