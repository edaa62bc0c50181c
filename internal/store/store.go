package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

// Store persists pages, comments, reactions and notifications. Mutations
// that report a bool return whether a row changed state.
type Store interface {
	UpsertPage(ctx context.Context, page Page) error
	GetPage(ctx context.Context, pageID string) (Page, error)
	DeletePage(ctx context.Context, pageID string) error

	InsertComment(ctx context.Context, comment Comment) error
	GetComment(ctx context.Context, commentID string) (Comment, error)
	UpdateCommentContent(ctx context.Context, commentID, content, plainText string, at time.Time) (bool, error)
	SoftDeleteComment(ctx context.Context, commentID string, at time.Time) (bool, error)
	ResolveThread(ctx context.Context, rootID, resolvedByID string, at time.Time) (bool, error)
	ReopenThread(ctx context.Context, rootID string) (bool, error)
	CountLiveReplies(ctx context.Context, commentID string) (int, error)
	ListThread(ctx context.Context, rootID string) ([]Comment, error)
	ListComments(ctx context.Context, query CommentQuery) ([]Comment, error)
	ListParticipants(ctx context.Context, rootID string) ([]string, error)

	InsertReaction(ctx context.Context, reaction Reaction) (bool, error)
	DeleteReaction(ctx context.Context, commentID, userID, reactionType string) (bool, error)
	ListReactionCounts(ctx context.Context, commentIDs []string) ([]ReactionCount, error)

	InsertNotifications(ctx context.Context, items []Notification) (int, error)
	GetNotification(ctx context.Context, notificationID string) (Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID string, at time.Time) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error)

	Ping(ctx context.Context) error
}
