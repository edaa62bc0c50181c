package store

import "time"

type Page struct {
	ID            string
	Title         string
	LatestVersion int
	SchemaVersion int
	PlainText     string
	UpdatedByID   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Comment is one row of a thread. RootID equals ID for a thread root; only
// the root's resolution fields are meaningful.
type Comment struct {
	ID              string
	PageID          string
	CreatorID       string
	ParentCommentID *string
	RootID          string
	Content         string
	PlainText       string
	Selection       string
	AnchorNodeID    string
	AnchorStart     int
	AnchorEnd       int
	AnchorVersion   int
	CreatedAt       time.Time
	EditedAt        *time.Time
	DeletedAt       *time.Time
	ResolvedAt      *time.Time
	ResolvedByID    *string
}

func (c Comment) IsRoot() bool {
	return c.ParentCommentID == nil
}

func (c Comment) IsDeleted() bool {
	return c.DeletedAt != nil
}

type Reaction struct {
	CommentID string
	UserID    string
	Type      string
	CreatedAt time.Time
}

type ReactionCount struct {
	CommentID string
	Type      string
	Count     int
}

type NotificationType string

const (
	NotificationReply    NotificationType = "reply"
	NotificationMention  NotificationType = "mention"
	NotificationReaction NotificationType = "reaction"
)

type Notification struct {
	ID           string
	UserID       string
	CommentID    string
	PageID       string
	ActorID      string
	Type         NotificationType
	ReactionType string // reaction notifications only
	IsRead       bool
	CreatedAt    time.Time
	ReadAt       *time.Time
}

// CommentQuery filters comments. Resolved applies to the state of each
// comment's thread root.
type CommentQuery struct {
	PageID    string
	CreatorID string
	Resolved  *bool
	Search    string
	Limit     int
}
