package annotation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"folio/api/internal/doctree"
	"folio/api/internal/rbac"
	"folio/api/internal/store"
)

// notifyComment fans a new comment out to thread participants (reply) and
// mentioned users (mention). A mention takes precedence over a reply and the
// author is never notified. Failures are logged; the comment stands.
func (s *Service) notifyComment(ctx context.Context, actor rbac.Actor, c store.Comment, doc doctree.Document) {
	recipients := map[string]store.NotificationType{}
	if !c.IsRoot() {
		participants, err := s.store.ListParticipants(ctx, c.RootID)
		if err != nil {
			s.logger.Warn("list thread participants", zap.String("thread", c.RootID), zap.Error(err))
		}
		for _, id := range participants {
			recipients[id] = store.NotificationReply
		}
	}
	for _, id := range mentionedUsers(doc) {
		recipients[id] = store.NotificationMention
	}
	delete(recipients, actor.ID)
	s.deliver(ctx, actor, c, recipients, "")
}

func (s *Service) notifyMentions(ctx context.Context, actor rbac.Actor, c store.Comment, users []string) {
	recipients := map[string]store.NotificationType{}
	for _, id := range users {
		recipients[id] = store.NotificationMention
	}
	delete(recipients, actor.ID)
	s.deliver(ctx, actor, c, recipients, "")
}

func (s *Service) deliver(ctx context.Context, actor rbac.Actor, c store.Comment, recipients map[string]store.NotificationType, reactionType string) {
	if len(recipients) == 0 {
		return
	}
	users := make([]string, 0, len(recipients))
	for id := range recipients {
		users = append(users, id)
	}
	sort.Strings(users)

	at := s.now()
	items := make([]store.Notification, 0, len(users))
	for _, id := range users {
		items = append(items, store.Notification{
			ID:           s.newID("ntf"),
			UserID:       id,
			CommentID:    c.ID,
			PageID:       c.PageID,
			ActorID:      actor.ID,
			Type:         recipients[id],
			ReactionType: reactionType,
			CreatedAt:    at,
		})
	}
	inserted, err := s.store.InsertNotifications(ctx, items)
	if err != nil {
		s.logger.Error("insert notifications", zap.String("comment", c.ID), zap.Int("recipients", len(items)), zap.Error(err))
		return
	}
	s.logger.Debug("notifications delivered", zap.String("comment", c.ID), zap.Int("inserted", inserted))
}

// MarkRead flips one of the actor's notifications to read. Notifications of
// other users are reported as not found.
func (s *Service) MarkRead(ctx context.Context, actor rbac.Actor, notificationID string) (Notification, error) {
	n, err := s.store.GetNotification(ctx, notificationID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && n.UserID != actor.ID) {
		return Notification{}, fmt.Errorf("%w: %s", ErrNotificationNotFound, notificationID)
	}
	if err != nil {
		return Notification{}, err
	}
	if n.IsRead {
		return notificationView(n), nil
	}
	at := s.now()
	changed, err := s.store.MarkNotificationRead(ctx, notificationID, at)
	if err != nil {
		return Notification{}, err
	}
	if changed {
		n.IsRead = true
		n.ReadAt = &at
		return notificationView(n), nil
	}
	current, err := s.store.GetNotification(ctx, notificationID)
	if err != nil {
		return Notification{}, err
	}
	return notificationView(current), nil
}

// MarkAllRead marks every notification of the actor that exists at call
// time as read and returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, actor rbac.Actor) (int, error) {
	if actor.ID == "" {
		return 0, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	return s.store.MarkAllNotificationsRead(ctx, actor.ID, s.now())
}

func (s *Service) ListNotifications(ctx context.Context, actor rbac.Actor, unreadOnly bool, limit int) ([]Notification, error) {
	if actor.ID == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	rows, err := s.store.ListNotifications(ctx, actor.ID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	items := make([]Notification, 0, len(rows))
	for _, n := range rows {
		items = append(items, notificationView(n))
	}
	return items, nil
}
