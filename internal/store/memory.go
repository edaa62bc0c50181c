package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type reactionKey struct {
	commentID string
	userID    string
	kind      string
}

type notificationKey struct {
	userID    string
	commentID string
	kind      NotificationType
	actorID   string
	reaction  string
}

// MemoryStore is an in-process Store used by tests and local development.
type MemoryStore struct {
	mu            sync.RWMutex
	pages         map[string]Page
	comments      map[string]Comment
	reactions     map[reactionKey]Reaction
	notifications map[string]Notification
	notifyKeys    map[notificationKey]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pages:         map[string]Page{},
		comments:      map[string]Comment{},
		reactions:     map[reactionKey]Reaction{},
		notifications: map[string]Notification{},
		notifyKeys:    map[notificationKey]string{},
	}
}

func (m *MemoryStore) UpsertPage(_ context.Context, page Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if page.UpdatedAt.IsZero() {
		page.UpdatedAt = time.Now().UTC()
	}
	if page.SchemaVersion == 0 {
		page.SchemaVersion = 1
	}
	current, ok := m.pages[page.ID]
	if ok {
		if current.LatestVersion > page.LatestVersion {
			return nil
		}
		page.CreatedAt = current.CreatedAt
	} else {
		page.CreatedAt = page.UpdatedAt
	}
	m.pages[page.ID] = page
	return nil
}

func (m *MemoryStore) GetPage(_ context.Context, pageID string) (Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	page, ok := m.pages[pageID]
	if !ok {
		return Page{}, fmt.Errorf("%w: page %s", ErrNotFound, pageID)
	}
	return page, nil
}

func (m *MemoryStore) DeletePage(_ context.Context, pageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pages[pageID]; !ok {
		return fmt.Errorf("%w: page %s", ErrNotFound, pageID)
	}
	delete(m.pages, pageID)
	for id, c := range m.comments {
		if c.PageID != pageID {
			continue
		}
		delete(m.comments, id)
		for key := range m.reactions {
			if key.commentID == id {
				delete(m.reactions, key)
			}
		}
	}
	for id, n := range m.notifications {
		if n.PageID == pageID {
			delete(m.notifications, id)
			delete(m.notifyKeys, notificationKey{n.UserID, n.CommentID, n.Type, n.ActorID, n.ReactionType})
		}
	}
	return nil
}

func (m *MemoryStore) InsertComment(_ context.Context, comment Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[comment.ID]; ok {
		return fmt.Errorf("insert comment: %w: %s", ErrConflict, comment.ID)
	}
	if comment.ParentCommentID != nil {
		if _, ok := m.comments[*comment.ParentCommentID]; !ok {
			return fmt.Errorf("insert comment: %w: parent %s", ErrNotFound, *comment.ParentCommentID)
		}
	}
	if comment.RootID == "" {
		comment.RootID = comment.ID
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	if _, ok := m.pages[comment.PageID]; !ok {
		m.pages[comment.PageID] = Page{ID: comment.PageID, SchemaVersion: 1, CreatedAt: comment.CreatedAt, UpdatedAt: comment.CreatedAt}
	}
	m.comments[comment.ID] = cloneComment(comment)
	return nil
}

func (m *MemoryStore) GetComment(_ context.Context, commentID string) (Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[commentID]
	if !ok {
		return Comment{}, fmt.Errorf("%w: comment %s", ErrNotFound, commentID)
	}
	return cloneComment(c), nil
}

func (m *MemoryStore) UpdateCommentContent(_ context.Context, commentID, content, plainText string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[commentID]
	if !ok || c.DeletedAt != nil {
		return false, nil
	}
	c.Content = content
	c.PlainText = plainText
	c.EditedAt = timePtr(at)
	m.comments[commentID] = c
	return true, nil
}

func (m *MemoryStore) SoftDeleteComment(_ context.Context, commentID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[commentID]
	if !ok || c.DeletedAt != nil {
		return false, nil
	}
	c.DeletedAt = timePtr(at)
	m.comments[commentID] = c
	return true, nil
}

func (m *MemoryStore) ResolveThread(_ context.Context, rootID, resolvedByID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[rootID]
	if !ok || c.RootID != c.ID || c.ResolvedAt != nil {
		return false, nil
	}
	by := resolvedByID
	c.ResolvedAt = timePtr(at)
	c.ResolvedByID = &by
	m.comments[rootID] = c
	return true, nil
}

func (m *MemoryStore) ReopenThread(_ context.Context, rootID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[rootID]
	if !ok || c.RootID != c.ID || c.ResolvedAt == nil {
		return false, nil
	}
	c.ResolvedAt = nil
	c.ResolvedByID = nil
	m.comments[rootID] = c
	return true, nil
}

func (m *MemoryStore) CountLiveReplies(_ context.Context, commentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.comments {
		if c.ID == commentID || c.DeletedAt != nil {
			continue
		}
		if c.RootID == commentID || (c.ParentCommentID != nil && *c.ParentCommentID == commentID) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListThread(_ context.Context, rootID string) ([]Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Comment, 0)
	for _, c := range m.comments {
		if c.RootID == rootID {
			items = append(items, cloneComment(c))
		}
	}
	sortComments(items)
	return items, nil
}

func (m *MemoryStore) ListComments(_ context.Context, query CommentQuery) ([]Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	terms := strings.Fields(strings.ToLower(query.Search))
	items := make([]Comment, 0)
	for _, c := range m.comments {
		if query.PageID != "" && c.PageID != query.PageID {
			continue
		}
		if query.CreatorID != "" && c.CreatorID != query.CreatorID {
			continue
		}
		if query.Resolved != nil {
			root, ok := m.comments[c.RootID]
			if !ok || (root.ResolvedAt != nil) != *query.Resolved {
				continue
			}
		}
		if len(terms) > 0 && c.DeletedAt != nil {
			continue
		}
		if !matchesTerms(c.PlainText, terms) {
			continue
		}
		items = append(items, cloneComment(c))
	}
	sortComments(items)
	if query.Limit > 0 && len(items) > query.Limit {
		items = items[:query.Limit]
	}
	return items, nil
}

func (m *MemoryStore) ListParticipants(_ context.Context, rootID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]bool{}
	items := make([]string, 0)
	for _, c := range m.comments {
		if c.RootID != rootID || seen[c.CreatorID] {
			continue
		}
		seen[c.CreatorID] = true
		items = append(items, c.CreatorID)
	}
	sort.Strings(items)
	return items, nil
}

func (m *MemoryStore) InsertReaction(_ context.Context, reaction Reaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[reaction.CommentID]; !ok {
		return false, fmt.Errorf("insert reaction: %w: comment %s", ErrNotFound, reaction.CommentID)
	}
	key := reactionKey{reaction.CommentID, reaction.UserID, reaction.Type}
	if _, ok := m.reactions[key]; ok {
		return false, nil
	}
	if reaction.CreatedAt.IsZero() {
		reaction.CreatedAt = time.Now().UTC()
	}
	m.reactions[key] = reaction
	return true, nil
}

func (m *MemoryStore) DeleteReaction(_ context.Context, commentID, userID, reactionType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := reactionKey{commentID, userID, reactionType}
	if _, ok := m.reactions[key]; !ok {
		return false, nil
	}
	delete(m.reactions, key)
	return true, nil
}

func (m *MemoryStore) ListReactionCounts(_ context.Context, commentIDs []string) ([]ReactionCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[string]bool, len(commentIDs))
	for _, id := range commentIDs {
		wanted[id] = true
	}
	counts := map[[2]string]int{}
	for key := range m.reactions {
		if wanted[key.commentID] {
			counts[[2]string{key.commentID, key.kind}]++
		}
	}
	items := make([]ReactionCount, 0, len(counts))
	for key, n := range counts {
		items = append(items, ReactionCount{CommentID: key[0], Type: key[1], Count: n})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CommentID != items[j].CommentID {
			return items[i].CommentID < items[j].CommentID
		}
		return items[i].Type < items[j].Type
	})
	return items, nil
}

func (m *MemoryStore) InsertNotifications(_ context.Context, items []Notification) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, item := range items {
		key := notificationKey{item.UserID, item.CommentID, item.Type, item.ActorID, item.ReactionType}
		if _, ok := m.notifyKeys[key]; ok {
			continue
		}
		if _, ok := m.notifications[item.ID]; ok {
			return inserted, fmt.Errorf("insert notification: %w: %s", ErrConflict, item.ID)
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = time.Now().UTC()
		}
		m.notifications[item.ID] = item
		m.notifyKeys[key] = item.ID
		inserted++
	}
	return inserted, nil
}

func (m *MemoryStore) GetNotification(_ context.Context, notificationID string) (Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[notificationID]
	if !ok {
		return Notification{}, fmt.Errorf("%w: notification %s", ErrNotFound, notificationID)
	}
	return n, nil
}

func (m *MemoryStore) MarkNotificationRead(_ context.Context, notificationID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[notificationID]
	if !ok || n.IsRead {
		return false, nil
	}
	n.IsRead = true
	n.ReadAt = timePtr(at)
	m.notifications[notificationID] = n
	return true, nil
}

func (m *MemoryStore) MarkAllNotificationsRead(_ context.Context, userID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, n := range m.notifications {
		if n.UserID != userID || n.IsRead || n.CreatedAt.After(at) {
			continue
		}
		n.IsRead = true
		n.ReadAt = timePtr(at)
		m.notifications[id] = n
		count++
	}
	return count, nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Notification, 0)
	for _, n := range m.notifications {
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		items = append(items, n)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func sortComments(items []Comment) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func matchesTerms(text string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, term := range terms {
		if !strings.Contains(lower, term) {
			return false
		}
	}
	return true
}

func cloneComment(c Comment) Comment {
	out := c
	if c.ParentCommentID != nil {
		v := *c.ParentCommentID
		out.ParentCommentID = &v
	}
	if c.ResolvedByID != nil {
		v := *c.ResolvedByID
		out.ResolvedByID = &v
	}
	out.EditedAt = copyTime(c.EditedAt)
	out.DeletedAt = copyTime(c.DeletedAt)
	out.ResolvedAt = copyTime(c.ResolvedAt)
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	v := t.UTC()
	return &v
}
