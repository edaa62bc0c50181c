package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
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

func (s *PostgresStore) UpsertPage(ctx context.Context, page Page) error {
	updatedAt := page.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	schemaVersion := page.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (id, title, latest_version, schema_version, plain_text, updated_by_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET title=EXCLUDED.title,
			latest_version=EXCLUDED.latest_version,
			schema_version=EXCLUDED.schema_version,
			plain_text=EXCLUDED.plain_text,
			updated_by_id=EXCLUDED.updated_by_id,
			updated_at=EXCLUDED.updated_at
		WHERE pages.latest_version <= EXCLUDED.latest_version
	`, page.ID, page.Title, page.LatestVersion, schemaVersion, page.PlainText, page.UpdatedByID, updatedAt)
	if err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPage(ctx context.Context, pageID string) (Page, error) {
	var page Page
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, latest_version, schema_version, plain_text, updated_by_id, created_at, updated_at
		FROM pages
		WHERE id=$1
	`, pageID).Scan(&page.ID, &page.Title, &page.LatestVersion, &page.SchemaVersion, &page.PlainText, &page.UpdatedByID, &page.CreatedAt, &page.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, fmt.Errorf("%w: page %s", ErrNotFound, pageID)
	}
	if err != nil {
		return Page{}, fmt.Errorf("get page: %w", err)
	}
	return page, nil
}

// DeletePage removes the page row; comments, reactions and notifications
// cascade.
func (s *PostgresStore) DeletePage(ctx context.Context, pageID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE id=$1`, pageID)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete page rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: page %s", ErrNotFound, pageID)
	}
	return nil
}

// InsertComment creates the page row on first use so comments can be left
// on a page before its first snapshot is ingested.
func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert comment tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pages (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, comment.PageID); err != nil {
		return fmt.Errorf("ensure page: %w", err)
	}

	rootID := comment.RootID
	if rootID == "" {
		rootID = comment.ID
	}
	createdAt := comment.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO comments (
			id, page_id, creator_id, parent_comment_id, root_comment_id, content, plain_text, selection,
			anchor_node_id, anchor_start, anchor_end, anchor_version, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, NULLIF($9, ''), $10, $11, $12, $13)
	`,
		comment.ID,
		comment.PageID,
		comment.CreatorID,
		comment.ParentCommentID,
		rootID,
		comment.Content,
		comment.PlainText,
		comment.Selection,
		comment.AnchorNodeID,
		comment.AnchorStart,
		comment.AnchorEnd,
		comment.AnchorVersion,
		createdAt,
	)
	if err != nil {
		return classify("insert comment", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert comment: %w", err)
	}
	return nil
}

const commentColumns = `
	c.id, c.page_id, c.creator_id, c.parent_comment_id, c.root_comment_id, c.content::text, c.plain_text, c.selection,
	COALESCE(c.anchor_node_id, ''), c.anchor_start, c.anchor_end, c.anchor_version,
	c.created_at, c.edited_at, c.deleted_at, c.resolved_at, c.resolved_by_id
`

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments c WHERE c.id=$1`, commentID)
	item, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, fmt.Errorf("%w: comment %s", ErrNotFound, commentID)
	}
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateCommentContent(ctx context.Context, commentID, content, plainText string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments
		SET content=$2::jsonb, plain_text=$3, edited_at=$4
		WHERE id=$1 AND deleted_at IS NULL
	`, commentID, content, plainText, at)
	if err != nil {
		return false, fmt.Errorf("update comment content: %w", err)
	}
	return changed(result, "update comment content")
}

func (s *PostgresStore) SoftDeleteComment(ctx context.Context, commentID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments
		SET deleted_at=$2
		WHERE id=$1 AND deleted_at IS NULL
	`, commentID, at)
	if err != nil {
		return false, fmt.Errorf("soft delete comment: %w", err)
	}
	return changed(result, "soft delete comment")
}

func (s *PostgresStore) ResolveThread(ctx context.Context, rootID, resolvedByID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments
		SET resolved_at=$3, resolved_by_id=$2
		WHERE id=$1 AND root_comment_id=id AND resolved_at IS NULL
	`, rootID, resolvedByID, at)
	if err != nil {
		return false, fmt.Errorf("resolve thread: %w", err)
	}
	return changed(result, "resolve thread")
}

func (s *PostgresStore) ReopenThread(ctx context.Context, rootID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments
		SET resolved_at=NULL, resolved_by_id=NULL
		WHERE id=$1 AND root_comment_id=id AND resolved_at IS NOT NULL
	`, rootID)
	if err != nil {
		return false, fmt.Errorf("reopen thread: %w", err)
	}
	return changed(result, "reopen thread")
}

// CountLiveReplies counts non-deleted comments below commentID: direct
// replies, and for a root every comment of its thread.
func (s *PostgresStore) CountLiveReplies(ctx context.Context, commentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM comments
		WHERE (root_comment_id=$1 OR parent_comment_id=$1)
		  AND id <> $1
		  AND deleted_at IS NULL
	`, commentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count live replies: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListThread(ctx context.Context, rootID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		WHERE c.root_comment_id=$1
		ORDER BY c.created_at ASC, c.id ASC
	`, rootID)
	if err != nil {
		return nil, fmt.Errorf("list thread: %w", err)
	}
	return collectComments(rows)
}

// ListComments never matches the text of deleted comments.
func (s *PostgresStore) ListComments(ctx context.Context, query CommentQuery) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		JOIN comments r ON r.id = c.root_comment_id
		WHERE ($1::text = '' OR c.page_id = $1::text)
		  AND ($2::text = '' OR c.creator_id = $2::text)
		  AND ($3::boolean IS NULL OR (r.resolved_at IS NOT NULL) = $3::boolean)
		  AND ($4::text = '' OR (c.deleted_at IS NULL AND to_tsvector('simple', c.plain_text) @@ plainto_tsquery('simple', $4::text)))
		ORDER BY c.created_at ASC, c.id ASC
		LIMIT NULLIF($5::int, 0)
	`, query.PageID, query.CreatorID, query.Resolved, query.Search, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return collectComments(rows)
}

// ListParticipants returns every author in the thread, including authors
// whose comments were later deleted.
func (s *PostgresStore) ListParticipants(ctx context.Context, rootID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT creator_id
		FROM comments
		WHERE root_comment_id=$1
		ORDER BY creator_id ASC
	`, rootID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return items, nil
}

// InsertReaction reports whether a new row was created. A concurrent insert
// of the same key is not an error.
func (s *PostgresStore) InsertReaction(ctx context.Context, reaction Reaction) (bool, error) {
	createdAt := reaction.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO comment_reactions (comment_id, user_id, reaction_type, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (comment_id, user_id, reaction_type) DO NOTHING
	`, reaction.CommentID, reaction.UserID, reaction.Type, createdAt)
	if err != nil {
		return false, classify("insert reaction", err)
	}
	return changed(result, "insert reaction")
}

func (s *PostgresStore) DeleteReaction(ctx context.Context, commentID, userID, reactionType string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM comment_reactions
		WHERE comment_id=$1 AND user_id=$2 AND reaction_type=$3
	`, commentID, userID, reactionType)
	if err != nil {
		return false, fmt.Errorf("delete reaction: %w", err)
	}
	return changed(result, "delete reaction")
}

func (s *PostgresStore) ListReactionCounts(ctx context.Context, commentIDs []string) ([]ReactionCount, error) {
	items := make([]ReactionCount, 0)
	if len(commentIDs) == 0 {
		return items, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT comment_id, reaction_type, COUNT(*)::int
		FROM comment_reactions
		WHERE comment_id = ANY($1::text[])
		GROUP BY comment_id, reaction_type
		ORDER BY comment_id ASC, reaction_type ASC
	`, commentIDs)
	if err != nil {
		return nil, fmt.Errorf("list reaction counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item ReactionCount
		if err := rows.Scan(&item.CommentID, &item.Type, &item.Count); err != nil {
			return nil, fmt.Errorf("scan reaction count: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reaction counts: %w", err)
	}
	return items, nil
}

// InsertNotifications writes all items in one transaction and returns how
// many were new. Duplicates of (user, comment, type, actor, reaction type)
// are skipped.
func (s *PostgresStore) InsertNotifications(ctx context.Context, items []Notification) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin notifications tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, item := range items {
		createdAt := item.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO comment_notifications (id, user_id, comment_id, page_id, actor_id, type, reaction_type, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id, comment_id, type, actor_id, reaction_type) DO NOTHING
		`, item.ID, item.UserID, item.CommentID, item.PageID, item.ActorID, string(item.Type), item.ReactionType, createdAt)
		if err != nil {
			return 0, classify("insert notification", err)
		}
		ok, err := changed(result, "insert notification")
		if err != nil {
			return 0, err
		}
		if ok {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit notifications: %w", err)
	}
	return inserted, nil
}

const notificationColumns = `id, user_id, comment_id, page_id, actor_id, type, reaction_type, is_read, created_at, read_at`

func (s *PostgresStore) GetNotification(ctx context.Context, notificationID string) (Notification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM comment_notifications WHERE id=$1`, notificationID)
	item, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, fmt.Errorf("%w: notification %s", ErrNotFound, notificationID)
	}
	if err != nil {
		return Notification{}, fmt.Errorf("get notification: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comment_notifications
		SET is_read=TRUE, read_at=$2
		WHERE id=$1 AND is_read=FALSE
	`, notificationID, at)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return changed(result, "mark notification read")
}

// MarkAllNotificationsRead flips every unread notification created at or
// before at in a single statement.
func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comment_notifications
		SET is_read=TRUE, read_at=$2
		WHERE user_id=$1 AND is_read=FALSE AND created_at <= $2
	`, userID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read rows: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM comment_notifications
		WHERE user_id=$1 AND (NOT $2::boolean OR is_read=FALSE)
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($3::int, 0)
	`, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		item, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComment(row rowScanner) (Comment, error) {
	var (
		item       Comment
		parentID   sql.NullString
		resolvedBy sql.NullString
		editedAt   sql.NullTime
		deletedAt  sql.NullTime
		resolvedAt sql.NullTime
	)
	err := row.Scan(
		&item.ID,
		&item.PageID,
		&item.CreatorID,
		&parentID,
		&item.RootID,
		&item.Content,
		&item.PlainText,
		&item.Selection,
		&item.AnchorNodeID,
		&item.AnchorStart,
		&item.AnchorEnd,
		&item.AnchorVersion,
		&item.CreatedAt,
		&editedAt,
		&deletedAt,
		&resolvedAt,
		&resolvedBy,
	)
	if err != nil {
		return Comment{}, err
	}
	item.ParentCommentID = nullString(parentID)
	item.ResolvedByID = nullString(resolvedBy)
	item.EditedAt = nullTime(editedAt)
	item.DeletedAt = nullTime(deletedAt)
	item.ResolvedAt = nullTime(resolvedAt)
	return item, nil
}

func collectComments(rows *sql.Rows) ([]Comment, error) {
	defer rows.Close()
	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func scanNotification(row rowScanner) (Notification, error) {
	var (
		item   Notification
		kind   string
		readAt sql.NullTime
	)
	if err := row.Scan(&item.ID, &item.UserID, &item.CommentID, &item.PageID, &item.ActorID, &kind, &item.ReactionType, &item.IsRead, &item.CreatedAt, &readAt); err != nil {
		return Notification{}, err
	}
	item.Type = NotificationType(kind)
	item.ReadAt = nullTime(readAt)
	return item, nil
}

func changed(result sql.Result, op string) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows: %w", op, err)
	}
	return affected > 0, nil
}

// classify maps constraint violations to the package sentinels.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrNotFound, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
