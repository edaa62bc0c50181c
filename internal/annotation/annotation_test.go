package annotation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/api/internal/anchor"
	"folio/api/internal/doctree"
	"folio/api/internal/history"
	"folio/api/internal/rbac"
	"folio/api/internal/schema"
	"folio/api/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances one second per call so every recorded timestamp is distinct.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingIndexer struct {
	mu      sync.Mutex
	indexed []string
	removed []string
}

func (r *recordingIndexer) IndexComment(_ context.Context, c store.Comment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, c.ID)
}

func (r *recordingIndexer) RemoveComment(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}

type fixture struct {
	svc     *Service
	store   *store.MemoryStore
	history *history.MemoryLog
	indexer *recordingIndexer
}

var (
	userA  = rbac.Actor{ID: "A", Name: "Ada", Role: rbac.RoleCommenter}
	userB  = rbac.Actor{ID: "B", Name: "Bo", Role: rbac.RoleCommenter}
	userC  = rbac.Actor{ID: "C", Name: "Cy", Role: rbac.RoleCommenter}
	userD  = rbac.Actor{ID: "D", Name: "Di", Role: rbac.RoleCommenter}
	editor = rbac.Actor{ID: "E", Name: "Ed", Role: rbac.RoleEditor}
	viewer = rbac.Actor{ID: "V", Name: "Vi", Role: rbac.RoleViewer}
)

func newFixture(t *testing.T) fixture {
	t.Helper()
	reg := schema.Default()
	st := store.NewMemoryStore()
	log := history.NewMemoryLog(reg)
	idx := &recordingIndexer{}
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	seq := 0
	svc := NewService(st, log, reg, rbac.RoleAuthorizer{},
		WithClock(clock.Now),
		WithIndexer(idx),
		WithIDGenerator(func(prefix string) string {
			seq++
			return fmt.Sprintf("%s_%03d", prefix, seq)
		}),
	)
	return fixture{svc: svc, store: st, history: log, indexer: idx}
}

// body builds a one-paragraph comment mentioning the given users.
func body(text string, mentions ...string) json.RawMessage {
	inline := []map[string]any{{"type": "text", "text": text}}
	for _, id := range mentions {
		inline = append(inline, map[string]any{
			"type":  "mention",
			"attrs": map[string]any{"entityId": id, "label": id},
		})
	}
	raw, _ := json.Marshal(map[string]any{
		"type":    "doc",
		"content": []any{map[string]any{"type": "paragraph", "content": inline}},
	})
	return raw
}

func (f fixture) snapshot(t *testing.T, paragraphs ...[2]string) history.Snapshot {
	t.Helper()
	var blocks []doctree.Node
	for _, p := range paragraphs {
		blocks = append(blocks, doctree.Node{
			ID:      p[0],
			Type:    schema.TypeParagraph,
			Content: []doctree.Node{doctree.NewText(p[1])},
		})
	}
	snap, err := f.history.Append(context.Background(), "page", doctree.NewDocument(schema.DefaultVersion, blocks...), "E", time.Now())
	require.NoError(t, err)
	return snap
}

func (f fixture) notificationsFor(t *testing.T, user, commentID string) []Notification {
	t.Helper()
	items, err := f.svc.ListNotifications(context.Background(), rbac.Actor{ID: user}, false, 0)
	require.NoError(t, err)
	var out []Notification
	for _, n := range items {
		if commentID == "" || n.CommentID == commentID {
			out = append(out, n)
		}
	}
	return out
}

func TestReplyFanOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	root, err := f.svc.CreateComment(ctx, userB, CreateCommentInput{PageID: "page", Content: body("proposal")})
	require.NoError(t, err)
	_, err = f.svc.CreateComment(ctx, userC, CreateCommentInput{PageID: "page", ParentCommentID: root.ID, Content: body("+1")})
	require.NoError(t, err)

	reply, err := f.svc.CreateComment(ctx, userA, CreateCommentInput{PageID: "page", ParentCommentID: root.ID, Content: body("looping in ", "D")})
	require.NoError(t, err)

	for _, tc := range []struct {
		user string
		want []store.NotificationType
	}{
		{user: "B", want: []store.NotificationType{store.NotificationReply}},
		{user: "C", want: []store.NotificationType{store.NotificationReply}},
		{user: "D", want: []store.NotificationType{store.NotificationMention}},
		{user: "A", want: nil},
	} {
		got := f.notificationsFor(t, tc.user, reply.ID)
		var types []store.NotificationType
		for _, n := range got {
			types = append(types, n.Type)
			assert.Equal(t, "A", n.ActorID)
			assert.False(t, n.IsRead)
		}
		assert.Equal(t, tc.want, types, "recipient %s", tc.user)
	}
}

func TestReplyReachesAuthorsOfDeletedReplies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	root, err := f.svc.CreateComment(ctx, userB, CreateCommentInput{PageID: "page", Content: body("proposal")})
	require.NoError(t, err)
	early, err := f.svc.CreateComment(ctx, userC, CreateCommentInput{PageID: "page", ParentCommentID: root.ID, Content: body("first thoughts")})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteComment(ctx, userC, early.ID))

	reply, err := f.svc.CreateComment(ctx, userA, CreateCommentInput{PageID: "page", ParentCommentID: root.ID, Content: body("following up")})
	require.NoError(t, err)

	got := f.notificationsFor(t, "C", reply.ID)
	require.Len(t, got, 1)
	assert.Equal(t, store.NotificationReply, got[0].Type)
}

func TestMentionTakesPrecedenceOverReply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	root, err := f.svc.CreateComment(ctx, userB, CreateCommentInput{PageID: "page", Content: body("question")})
	require.NoError(t, err)
	reply, err := f.svc.CreateComment(ctx, userA, CreateCommentInput{PageID: "page", ParentCommentID: root.ID, Content: body("asking ", "B", "A")})
	require.NoError(t, err)

	got := f.notificationsFor(t, "B", reply.ID)
	require.Len(t, got, 1)
	assert.Equal(t, store.NotificationMention, got[0].Type)
	assert.Empty(t, f.notificationsFor(t, "A", reply.ID), "self mention must not notify")
}

func TestRootCommentNotifiesOnlyMentions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	root, err := f.svc.CreateComment(ctx, userA, CreateCommentInput{PageID: "page", Content: body("hey ", "C")})
	require.NoError(t, err)
	assert.Len(t, f.notificationsFor(t, "C", root.ID), 1)
	assert.Empty(t, f.notificationsFor(t, "B", ""))
	assert.Equal(t, []string{root.ID}, f.indexer.indexed)
}

func TestReactionIdempotence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	root, err := f.svc.CreateComment(ctx, userB, CreateCommentInput{PageID: "page", Content: body("ship it")})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		counts, err := f.svc.AddReaction(ctx, userC, root.ID, "+1")
		require.NoError(t, err)
		assert.Equal(t, []ReactionCount{{Type: "+1", Count: 1}}, counts)
	}
	_, err = f.svc.AddReaction(ctx, userB, root.ID, "+1")
	require.NoError(t, err)

	reactions := f.notificationsFor(t, "B", root.ID)
	require.Len(t, reactions, 1, "one notification for C, none for the self reaction")
	assert.Equal(t, store.NotificationReaction, reactions[0].Type)
	assert.Equal(t, "C", reactions[0].ActorID)

	counts, err := f.svc.ReactionCounts(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, []ReactionCount{{Type: "+1", Count: 2}}, counts)

	for i := 0; i < 2; i++ {
		counts, err = f.svc.RemoveReaction(ctx, userC, root.ID, "+1")
		require.NoError(t, err)
		assert.Equal(t, []ReactionCount{{Type: "+1", Count: 1}}, counts)
	}

	_, err = f.svc.AddReaction(ctx, userC, root.ID, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.AddReaction(ctx, viewer, root.ID, "+1")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestEachReactionTypeNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	root, err := f.svc.CreateComment(ctx, userB, CreateCommentInput{PageID: "page", Content: body("ship it")})
	require.NoError(t, err)

	_, err = f.svc.AddReaction(ctx, userC, root.ID, "+1")
	require.NoError(t, err)
	_, err = f.svc.AddReaction(ctx, userC, root.ID, "heart")
	require.NoError(t, err)

	got := f.notificationsFor(t, "B", root.ID)
	require.Len(t, got, 2)
	var reactions []string
	for _, n := range got {
		assert.Equal(t, store.NotificationReaction, n.Type)
		assert.Equal(t, "C", n.ActorID)
		reactions = append(reactions, n.Reaction)
	}
	assert.ElementsMatch(t, []string{"+1", "heart"}, reactions)

	_, err = f.svc.RemoveReaction(ctx, userC, root.ID, "heart")
	require.NoError(t, err)
	_, err = f.svc.AddReaction(ctx, userC, root.ID, "heart")
	require.NoError(t, err)
	assert.Len(t, f.notificationsFor(t, "B", root.ID), 2, "re-adding a reaction does not notify again")
}

func TestResolveReopenResolve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	root, err := f.svc.CreateComment(ctx, userB, CreateCommentInput{PageID: "page", Content: body("typo here")})
	require.NoError(t, err)
	reply, err := f.svc.CreateComment(ctx, userC, CreateCommentInput{PageID: "page", ParentCommentID: root.ID, Content: body("fixed")})
	require.NoError(t, err)

	first, err := f.svc.Resolve(ctx, userC, reply.ID)
	require.NoError(t, err)
	require.True(t, first.Resolved)
	require.NotNil(t, first.Root.ResolvedAt)
	assert.Equal(t, "C", *first.Root.ResolvedByID)

	again, err := f.svc.Resolve(ctx, userB, root.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.Root.ResolvedAt, *again.Root.ResolvedAt, "resolving twice keeps the first resolution")
	assert.Equal(t, "C", *again.Root.ResolvedByID)

	reopened, err := f.svc.Reopen(ctx, userB, root.ID)
	require.NoError(t, err)
	assert.False(t, reopened.Resolved)
	assert.Nil(t, reopened.Root.ResolvedAt)
	assert.Nil(t, reopened.Root.ResolvedByID)

	second, err := f.svc.Resolve(ctx, userB, root.ID)
	require.NoError(t, err)
	require.NotNil(t, second.Root.ResolvedAt)
	assert.True(t, second.Root.ResolvedAt.After(*first.Root.ResolvedAt))
	assert.Nil(t, second.Replies[0].ResolvedAt, "resolution lives on the root only")

	resolved := true
	threads, err := f.svc.ListComments(ctx, userA, CommentFilter{PageID: "page", Resolved: &resolved})
	require.NoError(t, err)
	assert.Len(t, threads, 1)
	open := false
	threads, err = f.svc.ListComments(ctx, userA, CommentFilter{PageID: "page", Resolved: &open})
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestDeletingRootKeepsReplies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	root, err := f.svc.CreateComment(ctx, userB, CreateCommentInput{PageID: "page", Content: body("original point")})
	require.NoError(t, err)
	reply, err := f.svc.CreateComment(ctx, userC, CreateCommentInput{PageID: "page", ParentCommentID: root.ID, Content: body("counterpoint")})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteComment(ctx, userB, root.ID))
	require.NoError(t, f.svc.DeleteComment(ctx, userB, root.ID), "second delete is a no-op")
	assert.Equal(t, []string{root.ID}, f.indexer.removed)

	threads, err := f.svc.ListComments(ctx, userA, CommentFilter{PageID: "page"})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.True(t, threads[0].Root.Deleted)
	plain := doctree.Text(threads[0].Root.Content.Root.Content[0])
	assert.Equal(t, deletedText, plain)
	require.Len(t, threads[0].Replies, 1)
	assert.Equal(t, reply.ID, threads[0].Replies[0].ID)
	assert.False(t, threads[0].Replies[0].Deleted)
	assert.Equal(t, "counterpoint", doctree.Text(threads[0].Replies[0].Content.Root.Content[0]))

	_, err = f.svc.CreateComment(ctx, userD, CreateCommentInput{PageID: "page", ParentCommentID: root.ID, Content: body("still open")})
	require.NoError(t, err, "a deleted root with live replies still accepts replies")

	_, err = f.svc.EditComment(ctx, userB, root.ID, body("revived"))
	assert.ErrorIs(t, err, ErrCommentNotFound)
}

func TestDeletedThreadDisappears(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	root, err := f.svc.CreateComment(ctx, userB, CreateCommentInput{PageID: "page", Content: body("one")})
	require.NoError(t, err)
	reply, err := f.svc.CreateComment(ctx, userC, CreateCommentInput{PageID: "page", ParentCommentID: root.ID, Content: body("two")})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteComment(ctx, userB, root.ID))
	require.NoError(t, f.svc.DeleteComment(ctx, editor, reply.ID), "editors may remove other users' comments")

	threads, err := f.svc.ListComments(ctx, userA, CommentFilter{PageID: "page"})
	require.NoError(t, err)
	assert.Empty(t, threads)
	_, err = f.svc.GetThread(ctx, userA, root.ID)
	assert.ErrorIs(t, err, ErrCommentNotFound)
}

func TestParentNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateComment(ctx, userA, CreateCommentInput{PageID: "page", ParentCommentID: "cmt_missing", Content: body("hello")})
	assert.ErrorIs(t, err, ErrParentNotFound)

	lonely, err := f.svc.CreateComment(ctx, userB, CreateCommentInput{PageID: "page", Content: body("soon gone")})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteComment(ctx, userB, lonely.ID))
	_, err = f.svc.CreateComment(ctx, userA, CreateCommentInput{PageID: "page", ParentCommentID: lonely.ID, Content: body("late")})
	assert.ErrorIs(t, err, ErrParentNotFound)

	other, err := f.svc.CreateComment(ctx, userB, CreateCommentInput{PageID: "elsewhere", Content: body("different page")})
	require.NoError(t, err)
	_, err = f.svc.CreateComment(ctx, userA, CreateCommentInput{PageID: "page", ParentCommentID: other.ID, Content: body("cross")})
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestAnchorsResolveLazily(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.snapshot(t, [2]string{"p1", "Hello world"}, [2]string{"p2", "Second"})

	root, err := f.svc.CreateComment(ctx, userB, CreateCommentInput{
		PageID:  "page",
		Content: body("greeting?"),
		Anchor:  &AnchorInput{NodeID: "p1", Start: 6, End: 11},
	})
	require.NoError(t, err)
	assert.Equal(t, "world", root.Selection)
	require.NotNil(t, root.Anchor)
	assert.Equal(t, anchor.Anchor{NodeID: "p1", Start: 6, End: 11, SnapshotVersion: 1}, *root.Anchor)
	require.NotNil(t, root.Resolution)
	assert.Equal(t, anchor.Bound, root.Resolution.State)

	reply, err := f.svc.CreateComment(ctx, userC, CreateCommentInput{
		PageID:          "page",
		ParentCommentID: root.ID,
		Content:         body("agreed"),
		Anchor:          &AnchorInput{NodeID: "p2", Start: 0, End: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, *root.Anchor, *reply.Anchor, "replies inherit the root anchor")

	f.snapshot(t, [2]string{"p1", "Hello"}, [2]string{"p2", "Second"})
	thread, err := f.svc.GetThread(ctx, userA, root.ID)
	require.NoError(t, err)
	assert.Equal(t, anchor.Resolution{State: anchor.Shifted, NodeID: "p1", Start: 5, End: 5}, *thread.Root.Resolution)

	f.snapshot(t, [2]string{"p2", "Second"})
	threads, err := f.svc.ListComments(ctx, userA, CommentFilter{PageID: "page"})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, anchor.Orphaned, threads[0].Root.Resolution.State)
	assert.Equal(t, "world", threads[0].Root.Selection, "the quoted text survives orphaning")

	_, err = f.svc.CreateComment(ctx, userB, CreateCommentInput{
		PageID:  "page",
		Content: body("where?"),
		Anchor:  &AnchorInput{NodeID: "p1", Start: 0, End: 1},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	old, err := f.svc.CreateComment(ctx, userB, CreateCommentInput{
		PageID:  "page",
		Content: body("on v1"),
		Anchor:  &AnchorInput{NodeID: "p1", Start: 0, End: 5, SnapshotVersion: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, old.Anchor.SnapshotVersion)
	assert.Equal(t, anchor.Orphaned, old.Resolution.State)
}

func TestAnchorWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateComment(context.Background(), userB, CreateCommentInput{
		PageID:  "page",
		Content: body("anchored"),
		Anchor:  &AnchorInput{NodeID: "p1", End: 2},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAuthorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateComment(ctx, viewer, CreateCommentInput{PageID: "page", Content: body("hi")})
	assert.ErrorIs(t, err, ErrForbidden)

	root, err := f.svc.CreateComment(ctx, userB, CreateCommentInput{PageID: "page", Content: body("mine")})
	require.NoError(t, err)

	_, err = f.svc.EditComment(ctx, userC, root.ID, body("yours now"))
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, f.svc.DeleteComment(ctx, userC, root.ID), ErrForbidden)
	_, err = f.svc.Resolve(ctx, viewer, root.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.ListComments(ctx, viewer, CommentFilter{PageID: "page"})
	assert.NoError(t, err)
	_, err = f.svc.ListComments(ctx, viewer, CommentFilter{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestInvalidContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := map[string]json.RawMessage{
		"missing":       nil,
		"not json":      json.RawMessage(`{`),
		"empty":         json.RawMessage(`{"type":"doc","content":[{"type":"paragraph"}]}`),
		"wrong root":    json.RawMessage(`{"type":"paragraph"}`),
		"bad structure": json.RawMessage(`{"type":"doc","content":[{"type":"bulletList","content":[{"type":"text","text":"x"}]}]}`),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateComment(ctx, userA, CreateCommentInput{PageID: "page", Content: raw})
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestEditNotifiesNewMentionsOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	root, err := f.svc.CreateComment(ctx, userA, CreateCommentInput{PageID: "page", Content: body("cc ", "B")})
	require.NoError(t, err)

	edited, err := f.svc.EditComment(ctx, userA, root.ID, body("cc ", "B", "C"))
	require.NoError(t, err)
	require.NotNil(t, edited.EditedAt)

	assert.Len(t, f.notificationsFor(t, "B", root.ID), 1)
	assert.Len(t, f.notificationsFor(t, "C", root.ID), 1)

	threads, err := f.svc.ListComments(ctx, userD, CommentFilter{PageID: "page", Query: "cc"})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, []string{root.ID, root.ID}, f.indexer.indexed)
}

func TestNotificationReadState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.CreateComment(ctx, userA, CreateCommentInput{PageID: "page", Content: body("one ", "B")})
	require.NoError(t, err)
	_, err = f.svc.CreateComment(ctx, userA, CreateCommentInput{PageID: "page", Content: body("two ", "B")})
	require.NoError(t, err)

	notes := f.notificationsFor(t, "B", first.ID)
	require.Len(t, notes, 1)

	_, err = f.svc.MarkRead(ctx, userC, notes[0].ID)
	assert.ErrorIs(t, err, ErrNotificationNotFound, "other users' notifications are invisible")
	_, err = f.svc.MarkRead(ctx, userB, "ntf_missing")
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	read, err := f.svc.MarkRead(ctx, userB, notes[0].ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)
	require.NotNil(t, read.ReadAt)

	again, err := f.svc.MarkRead(ctx, userB, notes[0].ID)
	require.NoError(t, err)
	assert.Equal(t, *read.ReadAt, *again.ReadAt, "read is a one-way transition")

	marked, err := f.svc.MarkAllRead(ctx, userB)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	unread, err := f.svc.ListNotifications(ctx, userB, true, 0)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
