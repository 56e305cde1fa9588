package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, role, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			display_name=EXCLUDED.display_name,
			email=EXCLUDED.email,
			role=EXCLUDED.role,
			is_active=EXCLUDED.is_active,
			updated_at=NOW()
	`, user.ID, user.DisplayName, user.Email, user.Role, user.IsActive)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, is_active, created_at, updated_at
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// ResolveDisplayNames maps each exact display name of an active user to its id.
func (s *PostgresStore) ResolveDisplayNames(ctx context.Context, names []string) (map[string]string, error) {
	resolved := map[string]string{}
	if len(names) == 0 {
		return resolved, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT display_name, id FROM users
		WHERE is_active AND display_name = ANY($1)
	`, names)
	if err != nil {
		return nil, fmt.Errorf("resolve display names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			return nil, fmt.Errorf("scan display name: %w", err)
		}
		resolved[name] = id
	}
	return resolved, rows.Err()
}

func (s *PostgresStore) UpsertCandidate(ctx context.Context, candidate Candidate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin candidate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO candidates (id, name, email, position, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name,
			email=EXCLUDED.email,
			position=EXCLUDED.position,
			status=EXCLUDED.status,
			updated_at=NOW()
	`, candidate.ID, candidate.Name, candidate.Email, candidate.Position, candidate.Status, candidate.CreatedBy); err != nil {
		return fmt.Errorf("upsert candidate: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM candidate_assignees WHERE candidate_id=$1`, candidate.ID); err != nil {
		return fmt.Errorf("clear assignees: %w", err)
	}
	for _, userID := range candidate.AssignedTo {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO candidate_assignees (candidate_id, user_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, candidate.ID, userID); err != nil {
			return fmt.Errorf("insert assignee: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetCandidate(ctx context.Context, candidateID string) (Candidate, error) {
	var candidate Candidate
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, position, status, created_by, created_at, updated_at
		FROM candidates WHERE id=$1
	`, candidateID).Scan(
		&candidate.ID, &candidate.Name, &candidate.Email, &candidate.Position,
		&candidate.Status, &candidate.CreatedBy, &candidate.CreatedAt, &candidate.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Candidate{}, ErrNotFound
	}
	if err != nil {
		return Candidate{}, fmt.Errorf("get candidate: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM candidate_assignees WHERE candidate_id=$1 ORDER BY assigned_at, user_id
	`, candidateID)
	if err != nil {
		return Candidate{}, fmt.Errorf("list assignees: %w", err)
	}
	defer rows.Close()
	candidate.AssignedTo = []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return Candidate{}, fmt.Errorf("scan assignee: %w", err)
		}
		candidate.AssignedTo = append(candidate.AssignedTo, userID)
	}
	return candidate, rows.Err()
}

func (s *PostgresStore) InsertNote(ctx context.Context, note Note) (Note, error) {
	mentions, err := encodeMentions(note.Mentions)
	if err != nil {
		return Note{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (
			id, candidate_id, author_id, author_name, content, original_content,
			type, priority, is_private, is_edited, edited_at, mentions, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, note.ID, note.CandidateID, note.AuthorID, note.AuthorName, note.Content, note.OriginalContent,
		note.Type, note.Priority, note.IsPrivate, note.IsEdited, note.EditedAt, mentions, note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	if note.Reactions == nil {
		note.Reactions = []Reaction{}
	}
	return note, nil
}

const selectNote = `
	SELECT id, candidate_id, author_id, author_name, content, original_content,
		type, priority, is_private, is_edited, edited_at, mentions, created_at, updated_at
	FROM notes
`

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	var (
		note     Note
		editedAt sql.NullTime
		mentions []byte
	)
	err := s.db.QueryRowContext(ctx, selectNote+` WHERE id=$1`, noteID).Scan(
		&note.ID, &note.CandidateID, &note.AuthorID, &note.AuthorName, &note.Content, &note.OriginalContent,
		&note.Type, &note.Priority, &note.IsPrivate, &note.IsEdited, &editedAt, &mentions, &note.CreatedAt, &note.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, ErrNotFound
	}
	if err != nil {
		return Note{}, fmt.Errorf("get note: %w", err)
	}
	if editedAt.Valid {
		t := editedAt.Time
		note.EditedAt = &t
	}
	if err := json.Unmarshal(mentions, &note.Mentions); err != nil {
		return Note{}, fmt.Errorf("decode mentions: %w", err)
	}
	if note.Mentions == nil {
		note.Mentions = []NoteMention{}
	}

	note.Reactions, err = s.listReactions(ctx, s.db, noteID)
	if err != nil {
		return Note{}, err
	}
	return note, nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, note Note) (Note, error) {
	mentions, err := encodeMentions(note.Mentions)
	if err != nil {
		return Note{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE notes SET
			content=$2, original_content=$3, type=$4, priority=$5, is_private=$6,
			is_edited=$7, edited_at=$8, mentions=$9, updated_at=$10
		WHERE id=$1
	`, note.ID, note.Content, note.OriginalContent, note.Type, note.Priority, note.IsPrivate,
		note.IsEdited, note.EditedAt, mentions, note.UpdatedAt)
	if err != nil {
		return Note{}, fmt.Errorf("update note: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return Note{}, err
	}
	return s.GetNote(ctx, note.ID)
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return requireAffected(res)
}

// UpsertReaction stores the user's reaction, replacing any earlier one while
// keeping its position in the list.
func (s *PostgresStore) UpsertReaction(ctx context.Context, noteID string, reaction Reaction) ([]Reaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reaction tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockNote(ctx, tx, noteID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO note_reactions (note_id, user_id, kind, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (note_id, user_id) DO UPDATE SET kind=EXCLUDED.kind
	`, noteID, reaction.UserID, reaction.Kind, reaction.CreatedAt); err != nil {
		return nil, fmt.Errorf("upsert reaction: %w", err)
	}
	reactions, err := s.listReactions(ctx, tx, noteID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reaction: %w", err)
	}
	return reactions, nil
}

func (s *PostgresStore) DeleteReaction(ctx context.Context, noteID, userID string) ([]Reaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reaction tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockNote(ctx, tx, noteID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_reactions WHERE note_id=$1 AND user_id=$2`, noteID, userID); err != nil {
		return nil, fmt.Errorf("delete reaction: %w", err)
	}
	reactions, err := s.listReactions(ctx, tx, noteID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reaction: %w", err)
	}
	return reactions, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) listReactions(ctx context.Context, q queryer, noteID string) ([]Reaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id, kind, created_at FROM note_reactions
		WHERE note_id=$1 ORDER BY created_at, user_id
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	reactions := []Reaction{}
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.UserID, &r.Kind, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

func lockNote(ctx context.Context, tx *sql.Tx, noteID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM notes WHERE id=$1 FOR UPDATE`, noteID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock note: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, n Notification) (Notification, error) {
	metadata, err := json.Marshal(nonNilMetadata(n.Metadata))
	if err != nil {
		return Notification{}, fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, recipient_id, sender_id, sender_name, kind, title, message,
			note_id, candidate_id, action_url, is_read, read_at, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13, $14)
	`, n.ID, n.RecipientID, n.SenderID, n.SenderName, n.Kind, n.Title, n.Message,
		n.NoteID, n.CandidateID, n.ActionURL, n.IsRead, n.ReadAt, metadata, n.CreatedAt)
	if err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

const selectNotification = `
	SELECT id, recipient_id, sender_id, sender_name, kind, title, message,
		COALESCE(note_id, ''), candidate_id, action_url, is_read, read_at, metadata, created_at
	FROM notifications
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (Notification, error) {
	var (
		n        Notification
		readAt   sql.NullTime
		metadata []byte
	)
	if err := row.Scan(
		&n.ID, &n.RecipientID, &n.SenderID, &n.SenderName, &n.Kind, &n.Title, &n.Message,
		&n.NoteID, &n.CandidateID, &n.ActionURL, &n.IsRead, &readAt, &metadata, &n.CreatedAt,
	); err != nil {
		return Notification{}, err
	}
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return Notification{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return n, nil
}

func (s *PostgresStore) GetNotification(ctx context.Context, id string) (Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx, selectNotification+` WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// MarkNotificationRead flips the read flag of a notification owned by
// recipientID. Marking an already read notification keeps its first read time.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id, recipientID string, at time.Time) (Notification, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read=TRUE, read_at=COALESCE(read_at, $3)
		WHERE id=$1 AND recipient_id=$2
	`, id, recipientID, at)
	if err != nil {
		return Notification{}, fmt.Errorf("mark notification read: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return Notification{}, err
	}
	return s.GetNotification(ctx, id)
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read=TRUE, read_at=$2
		WHERE recipient_id=$1 AND NOT is_read
	`, recipientID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM notifications WHERE recipient_id=$1 AND NOT is_read
	`, recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectNotification+`
		WHERE recipient_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListNoteSearchRecords(ctx context.Context) ([]NoteSearchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, candidate_id, author_id, author_name, content, type, is_private, created_at
		FROM notes ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	defer rows.Close()

	records := make([]NoteSearchRecord, 0)
	for rows.Next() {
		var r NoteSearchRecord
		if err := rows.Scan(&r.ID, &r.CandidateID, &r.AuthorID, &r.AuthorName, &r.Content, &r.Type, &r.IsPrivate, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func encodeMentions(mentions []NoteMention) ([]byte, error) {
	if mentions == nil {
		mentions = []NoteMention{}
	}
	raw, err := json.Marshal(mentions)
	if err != nil {
		return nil, fmt.Errorf("encode mentions: %w", err)
	}
	return raw, nil
}

func nonNilMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return map[string]string{}
	}
	return metadata
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
