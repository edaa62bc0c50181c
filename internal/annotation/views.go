package annotation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"folio/api/internal/anchor"
	"folio/api/internal/doctree"
	"folio/api/internal/history"
	"folio/api/internal/store"
)

type ReactionCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type Comment struct {
	ID              string             `json:"id"`
	PageID          string             `json:"pageId"`
	CreatorID       string             `json:"creatorId"`
	ParentCommentID *string            `json:"parentCommentId,omitempty"`
	RootID          string             `json:"rootId"`
	Content         doctree.Document   `json:"content"`
	Selection       string             `json:"selection,omitempty"`
	Anchor          *anchor.Anchor     `json:"anchor,omitempty"`
	Resolution      *anchor.Resolution `json:"resolution,omitempty"`
	Deleted         bool               `json:"deleted"`
	CreatedAt       time.Time          `json:"createdAt"`
	EditedAt        *time.Time         `json:"editedAt,omitempty"`
	DeletedAt       *time.Time         `json:"deletedAt,omitempty"`
	ResolvedAt      *time.Time         `json:"resolvedAt,omitempty"`
	ResolvedByID    *string            `json:"resolvedById,omitempty"`
	Reactions       []ReactionCount    `json:"reactions"`
}

type Thread struct {
	Root     Comment   `json:"root"`
	Replies  []Comment `json:"replies"`
	Resolved bool      `json:"resolved"`
}

type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"userId"`
	CommentID string                 `json:"commentId"`
	PageID    string                 `json:"pageId"`
	ActorID   string                 `json:"actorId"`
	Type      store.NotificationType `json:"type"`
	Reaction  string                 `json:"reactionType,omitempty"`
	IsRead    bool                   `json:"isRead"`
	CreatedAt time.Time              `json:"createdAt"`
	ReadAt    *time.Time             `json:"readAt,omitempty"`
}

func notificationView(n store.Notification) Notification {
	return Notification{
		ID:        n.ID,
		UserID:    n.UserID,
		CommentID: n.CommentID,
		PageID:    n.PageID,
		ActorID:   n.ActorID,
		Type:      n.Type,
		Reaction:  n.ReactionType,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
		ReadAt:    n.ReadAt,
	}
}

// resolver resolves anchors lazily against the latest snapshot of each page
// it is asked about, loading each snapshot at most once.
type resolver struct {
	ctx     context.Context
	history history.Log
	logger  *zap.Logger
	indexes map[string]*anchor.Index
}

func (s *Service) newResolver(ctx context.Context) *resolver {
	return &resolver{ctx: ctx, history: s.history, logger: s.logger, indexes: map[string]*anchor.Index{}}
}

func (r *resolver) resolve(pageID string, a anchor.Anchor) anchor.Resolution {
	ix, ok := r.indexes[pageID]
	if !ok {
		if r.history != nil {
			snap, err := r.history.Latest(r.ctx, pageID)
			switch {
			case err == nil:
				ix = anchor.NewIndex(snap.Doc)
			case errors.Is(err, history.ErrNotFound):
			default:
				r.logger.Warn("load snapshot for anchor resolution", zap.String("page", pageID), zap.Error(err))
			}
		}
		r.indexes[pageID] = ix
	}
	if ix == nil {
		return anchor.Resolution{State: anchor.Orphaned, NodeID: a.NodeID}
	}
	return ix.Resolve(a)
}

// buildThreads groups rows by thread root, hides tombstones without live
// descendants and attaches anchors and reaction counts.
func (s *Service) buildThreads(ctx context.Context, rows []store.Comment) ([]Thread, error) {
	byRoot := map[string][]store.Comment{}
	var order []string
	for _, c := range rows {
		if _, ok := byRoot[c.RootID]; !ok {
			order = append(order, c.RootID)
		}
		byRoot[c.RootID] = append(byRoot[c.RootID], c)
	}

	ids := make([]string, 0, len(rows))
	for _, c := range rows {
		ids = append(ids, c.ID)
	}
	counts, err := s.store.ListReactionCounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	reactions := map[string][]ReactionCount{}
	for _, rc := range counts {
		reactions[rc.CommentID] = append(reactions[rc.CommentID], ReactionCount{Type: rc.Type, Count: rc.Count})
	}

	res := s.newResolver(ctx)
	threads := make([]Thread, 0, len(order))
	for _, rootID := range order {
		members := byRoot[rootID]
		visible := visibleComments(members)
		var root *store.Comment
		for i := range members {
			if members[i].ID == rootID {
				root = &members[i]
			}
		}
		if root == nil || !visible[rootID] {
			continue
		}
		thread := Thread{Resolved: root.ResolvedAt != nil, Replies: []Comment{}}
		thread.Root = s.commentView(*root, res, reactions[root.ID])
		for _, c := range members {
			if c.ID == rootID || !visible[c.ID] {
				continue
			}
			thread.Replies = append(thread.Replies, s.commentView(c, res, reactions[c.ID]))
		}
		threads = append(threads, thread)
	}
	return threads, nil
}

// visibleComments marks live comments and tombstones that still have a live
// descendant.
func visibleComments(members []store.Comment) map[string]bool {
	children := map[string][]store.Comment{}
	for _, c := range members {
		if c.ParentCommentID != nil {
			children[*c.ParentCommentID] = append(children[*c.ParentCommentID], c)
		}
	}
	visible := map[string]bool{}
	var live func(c store.Comment) bool
	live = func(c store.Comment) bool {
		keep := !c.IsDeleted()
		for _, child := range children[c.ID] {
			if live(child) {
				keep = true
			}
		}
		visible[c.ID] = keep
		return keep
	}
	for _, c := range members {
		if c.ParentCommentID == nil || c.ID == c.RootID {
			live(c)
		}
	}
	return visible
}

func (s *Service) commentView(c store.Comment, res *resolver, reactions []ReactionCount) Comment {
	view := Comment{
		ID:              c.ID,
		PageID:          c.PageID,
		CreatorID:       c.CreatorID,
		ParentCommentID: c.ParentCommentID,
		RootID:          c.RootID,
		Selection:       c.Selection,
		Deleted:         c.IsDeleted(),
		CreatedAt:       c.CreatedAt,
		EditedAt:        c.EditedAt,
		DeletedAt:       c.DeletedAt,
		ResolvedAt:      c.ResolvedAt,
		ResolvedByID:    c.ResolvedByID,
		Reactions:       reactions,
	}
	if view.Reactions == nil {
		view.Reactions = []ReactionCount{}
	}
	if c.IsDeleted() {
		view.Content = deletedMarker(s.reg)
		view.Selection = ""
	} else {
		doc, err := doctree.Parse(s.reg, []byte(c.Content))
		if err != nil {
			s.logger.Warn("decode stored comment content", zap.String("comment", c.ID), zap.Error(err))
			doc = doctree.NewDocument(s.reg.Version())
		}
		view.Content = doc
	}
	if c.AnchorNodeID != "" {
		a := anchor.Anchor{NodeID: c.AnchorNodeID, Start: c.AnchorStart, End: c.AnchorEnd, SnapshotVersion: c.AnchorVersion}
		view.Anchor = &a
		if res != nil {
			r := res.resolve(c.PageID, a)
			view.Resolution = &r
		}
	}
	return view
}
