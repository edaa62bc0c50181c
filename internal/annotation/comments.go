package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"folio/api/internal/anchor"
	"folio/api/internal/doctree"
	"folio/api/internal/history"
	"folio/api/internal/rbac"
	"folio/api/internal/store"
)

// AnchorInput selects a text range in a page snapshot. SnapshotVersion 0
// means the latest snapshot.
type AnchorInput struct {
	NodeID          string `json:"nodeId" validate:"required"`
	Start           int    `json:"textOffsetStart" validate:"gte=0"`
	End             int    `json:"textOffsetEnd" validate:"gte=0"`
	SnapshotVersion int    `json:"snapshotVersion" validate:"gte=0"`
}

type CreateCommentInput struct {
	PageID          string          `json:"pageId" validate:"required,max=200"`
	ParentCommentID string          `json:"parentCommentId,omitempty" validate:"max=200"`
	Content         json.RawMessage `json:"content" validate:"required"`
	Anchor          *AnchorInput    `json:"anchor,omitempty"`
}

// CreateComment starts a thread or replies to one. Replies inherit the
// anchor of their thread root and ignore input.Anchor.
func (s *Service) CreateComment(ctx context.Context, actor rbac.Actor, input CreateCommentInput) (Comment, error) {
	if err := s.authorize(ctx, actor, rbac.ActionComment, rbac.Resource{PageID: input.PageID, OwnerID: actor.ID}); err != nil {
		return Comment{}, err
	}
	if err := s.check(input); err != nil {
		return Comment{}, err
	}
	body, err := parseContent(s.reg, input.Content)
	if err != nil {
		return Comment{}, err
	}

	row := store.Comment{
		ID:        s.newID("cmt"),
		PageID:    input.PageID,
		CreatorID: actor.ID,
		Content:   body.encoded,
		PlainText: body.plainText,
		CreatedAt: s.now(),
	}
	row.RootID = row.ID

	if input.ParentCommentID != "" {
		root, err := s.replyTarget(ctx, input.PageID, input.ParentCommentID)
		if err != nil {
			return Comment{}, err
		}
		parentID := input.ParentCommentID
		row.ParentCommentID = &parentID
		row.RootID = root.ID
		row.AnchorNodeID = root.AnchorNodeID
		row.AnchorStart = root.AnchorStart
		row.AnchorEnd = root.AnchorEnd
		row.AnchorVersion = root.AnchorVersion
		row.Selection = root.Selection
	} else if input.Anchor != nil {
		if err := s.check(input.Anchor); err != nil {
			return Comment{}, err
		}
		a, selected, err := s.capture(ctx, input.PageID, *input.Anchor)
		if err != nil {
			return Comment{}, err
		}
		row.AnchorNodeID = a.NodeID
		row.AnchorStart = a.Start
		row.AnchorEnd = a.End
		row.AnchorVersion = a.SnapshotVersion
		row.Selection = selected
	}

	if err := s.store.InsertComment(ctx, row); err != nil {
		if errors.Is(err, store.ErrConflict) {
			existing, getErr := s.store.GetComment(ctx, row.ID)
			if getErr != nil {
				return Comment{}, getErr
			}
			return s.commentView(existing, s.newResolver(ctx), nil), nil
		}
		if errors.Is(err, store.ErrNotFound) && row.ParentCommentID != nil {
			return Comment{}, fmt.Errorf("%w: %s", ErrParentNotFound, *row.ParentCommentID)
		}
		return Comment{}, err
	}

	s.notifyComment(ctx, actor, row, body.doc)
	if s.indexer != nil {
		s.indexer.IndexComment(ctx, row)
	}
	return s.commentView(row, s.newResolver(ctx), nil), nil
}

// replyTarget checks the parent and returns the thread root.
func (s *Service) replyTarget(ctx context.Context, pageID, parentID string) (store.Comment, error) {
	parent, err := s.store.GetComment(ctx, parentID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Comment{}, fmt.Errorf("%w: %s", ErrParentNotFound, parentID)
	}
	if err != nil {
		return store.Comment{}, err
	}
	if parent.PageID != pageID {
		return store.Comment{}, fmt.Errorf("%w: %s is on another page", ErrParentNotFound, parentID)
	}
	if parent.IsDeleted() {
		live, err := s.store.CountLiveReplies(ctx, parent.ID)
		if err != nil {
			return store.Comment{}, err
		}
		if live == 0 {
			return store.Comment{}, fmt.Errorf("%w: %s was deleted", ErrParentNotFound, parentID)
		}
	}
	if parent.RootID == parent.ID {
		return parent, nil
	}
	root, err := s.store.GetComment(ctx, parent.RootID)
	if err != nil {
		return store.Comment{}, fmt.Errorf("load thread root %s: %w", parent.RootID, err)
	}
	return root, nil
}

func (s *Service) capture(ctx context.Context, pageID string, in AnchorInput) (anchor.Anchor, string, error) {
	if s.history == nil {
		return anchor.Anchor{}, "", fmt.Errorf("%w: page has no snapshots", ErrInvalidInput)
	}
	var (
		snap history.Snapshot
		err  error
	)
	if in.SnapshotVersion > 0 {
		snap, err = s.history.Get(ctx, pageID, in.SnapshotVersion)
	} else {
		snap, err = s.history.Latest(ctx, pageID)
	}
	if errors.Is(err, history.ErrNotFound) {
		return anchor.Anchor{}, "", fmt.Errorf("%w: no snapshot to anchor to", ErrInvalidInput)
	}
	if err != nil {
		return anchor.Anchor{}, "", err
	}
	a, selected, err := anchor.Capture(snap.Doc, snap.Version, in.NodeID, in.Start, in.End)
	if errors.Is(err, anchor.ErrNodeNotFound) {
		return anchor.Anchor{}, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return a, selected, err
}

// EditComment replaces the body of a live comment. Users mentioned for the
// first time are notified.
func (s *Service) EditComment(ctx context.Context, actor rbac.Actor, commentID string, raw json.RawMessage) (Comment, error) {
	current, err := s.comment(ctx, commentID, false)
	if err != nil {
		return Comment{}, err
	}
	if err := s.authorize(ctx, actor, rbac.ActionEditComment, resourceOf(current)); err != nil {
		return Comment{}, err
	}
	body, err := parseContent(s.reg, raw)
	if err != nil {
		return Comment{}, err
	}
	at := s.now()
	ok, err := s.store.UpdateCommentContent(ctx, commentID, body.encoded, body.plainText, at)
	if err != nil {
		return Comment{}, err
	}
	if !ok {
		return Comment{}, fmt.Errorf("%w: %s", ErrCommentNotFound, commentID)
	}

	previous := map[string]bool{}
	if old, err := doctree.Parse(s.reg, []byte(current.Content)); err == nil {
		for _, id := range mentionedUsers(old) {
			previous[id] = true
		}
	}
	var added []string
	for _, id := range mentionedUsers(body.doc) {
		if !previous[id] {
			added = append(added, id)
		}
	}
	current.Content = body.encoded
	current.PlainText = body.plainText
	current.EditedAt = &at
	s.notifyMentions(ctx, actor, current, added)

	if s.indexer != nil {
		s.indexer.IndexComment(ctx, current)
	}
	return s.commentView(current, s.newResolver(ctx), nil), nil
}

// DeleteComment tombstones a comment. Replies stay attached and visible.
// Deleting an already deleted comment is a no-op.
func (s *Service) DeleteComment(ctx context.Context, actor rbac.Actor, commentID string) error {
	current, err := s.comment(ctx, commentID, true)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, actor, rbac.ActionDeleteComment, resourceOf(current)); err != nil {
		return err
	}
	if current.IsDeleted() {
		return nil
	}
	changed, err := s.store.SoftDeleteComment(ctx, commentID, s.now())
	if err != nil {
		return err
	}
	if changed {
		s.logger.Info("comment deleted", zap.String("comment", commentID), zap.String("actor", actor.ID))
		if s.indexer != nil {
			s.indexer.RemoveComment(ctx, commentID)
		}
	}
	return nil
}

// Resolve marks the thread containing commentID resolved. Resolving a
// resolved thread keeps the original resolver and time.
func (s *Service) Resolve(ctx context.Context, actor rbac.Actor, commentID string) (Thread, error) {
	return s.setResolved(ctx, actor, commentID, true)
}

func (s *Service) Reopen(ctx context.Context, actor rbac.Actor, commentID string) (Thread, error) {
	return s.setResolved(ctx, actor, commentID, false)
}

func (s *Service) setResolved(ctx context.Context, actor rbac.Actor, commentID string, resolved bool) (Thread, error) {
	current, err := s.comment(ctx, commentID, true)
	if err != nil {
		return Thread{}, err
	}
	if err := s.authorize(ctx, actor, rbac.ActionResolve, resourceOf(current)); err != nil {
		return Thread{}, err
	}
	if resolved {
		_, err = s.store.ResolveThread(ctx, current.RootID, actor.ID, s.now())
	} else {
		_, err = s.store.ReopenThread(ctx, current.RootID)
	}
	if err != nil {
		return Thread{}, err
	}
	return s.thread(ctx, current.RootID)
}

func (s *Service) GetThread(ctx context.Context, actor rbac.Actor, commentID string) (Thread, error) {
	current, err := s.comment(ctx, commentID, true)
	if err != nil {
		return Thread{}, err
	}
	if err := s.authorize(ctx, actor, rbac.ActionRead, resourceOf(current)); err != nil {
		return Thread{}, err
	}
	return s.thread(ctx, current.RootID)
}

func (s *Service) thread(ctx context.Context, rootID string) (Thread, error) {
	rows, err := s.store.ListThread(ctx, rootID)
	if err != nil {
		return Thread{}, err
	}
	threads, err := s.buildThreads(ctx, rows)
	if err != nil {
		return Thread{}, err
	}
	if len(threads) == 0 {
		return Thread{}, fmt.Errorf("%w: %s", ErrCommentNotFound, rootID)
	}
	return threads[0], nil
}

type CommentFilter struct {
	PageID    string `validate:"required"`
	CreatorID string
	Resolved  *bool
	Query     string `validate:"max=500"`
	Limit     int    `validate:"gte=0"`
}

// ListComments returns the threads of a page, oldest first, with anchors
// resolved against the latest snapshot. CreatorID and Query select threads
// containing at least one matching comment; Resolved filters on the root.
func (s *Service) ListComments(ctx context.Context, actor rbac.Actor, filter CommentFilter) ([]Thread, error) {
	if err := s.authorize(ctx, actor, rbac.ActionRead, rbac.Resource{PageID: filter.PageID}); err != nil {
		return nil, err
	}
	if err := s.check(filter); err != nil {
		return nil, err
	}
	rows, err := s.store.ListComments(ctx, store.CommentQuery{
		PageID:    filter.PageID,
		CreatorID: filter.CreatorID,
		Resolved:  filter.Resolved,
		Search:    filter.Query,
	})
	if err != nil {
		return nil, err
	}
	if filter.CreatorID != "" || filter.Query != "" {
		rows, err = s.expandThreads(ctx, rows)
		if err != nil {
			return nil, err
		}
	}
	threads, err := s.buildThreads(ctx, rows)
	if err != nil {
		return nil, err
	}
	if filter.Limit > 0 && len(threads) > filter.Limit {
		threads = threads[:filter.Limit]
	}
	return threads, nil
}

// expandThreads replaces matched rows with the full threads they belong to.
func (s *Service) expandThreads(ctx context.Context, matched []store.Comment) ([]store.Comment, error) {
	seen := map[string]bool{}
	var out []store.Comment
	for _, c := range matched {
		if seen[c.RootID] {
			continue
		}
		seen[c.RootID] = true
		rows, err := s.store.ListThread(ctx, c.RootID)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func resourceOf(c store.Comment) rbac.Resource {
	return rbac.Resource{PageID: c.PageID, CommentID: c.ID, OwnerID: c.CreatorID}
}
