package annotation

import (
	"context"

	"folio/api/internal/rbac"
	"folio/api/internal/store"
)

type reactionInput struct {
	Type string `validate:"required,max=32"`
}

// AddReaction is idempotent per (comment, user, type). The comment creator
// is notified once per distinct reaction type from someone else; removing
// and re-adding the same type does not notify again.
func (s *Service) AddReaction(ctx context.Context, actor rbac.Actor, commentID, reactionType string) ([]ReactionCount, error) {
	c, err := s.comment(ctx, commentID, false)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, rbac.ActionReact, resourceOf(c)); err != nil {
		return nil, err
	}
	if err := s.check(reactionInput{Type: reactionType}); err != nil {
		return nil, err
	}
	inserted, err := s.store.InsertReaction(ctx, store.Reaction{
		CommentID: commentID,
		UserID:    actor.ID,
		Type:      reactionType,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}
	if inserted && c.CreatorID != actor.ID {
		s.deliver(ctx, actor, c, map[string]store.NotificationType{c.CreatorID: store.NotificationReaction}, reactionType)
	}
	return s.ReactionCounts(ctx, commentID)
}

func (s *Service) RemoveReaction(ctx context.Context, actor rbac.Actor, commentID, reactionType string) ([]ReactionCount, error) {
	c, err := s.comment(ctx, commentID, true)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, rbac.ActionReact, resourceOf(c)); err != nil {
		return nil, err
	}
	if _, err := s.store.DeleteReaction(ctx, commentID, actor.ID, reactionType); err != nil {
		return nil, err
	}
	return s.ReactionCounts(ctx, commentID)
}

// ReactionCounts is derived from the reaction rows on every call.
func (s *Service) ReactionCounts(ctx context.Context, commentID string) ([]ReactionCount, error) {
	rows, err := s.store.ListReactionCounts(ctx, []string{commentID})
	if err != nil {
		return nil, err
	}
	counts := make([]ReactionCount, 0, len(rows))
	for _, rc := range rows {
		counts = append(counts, ReactionCount{Type: rc.Type, Count: rc.Count})
	}
	return counts, nil
}
