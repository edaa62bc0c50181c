package search

import (
	"context"

	"go.uber.org/zap"

	"folio/api/internal/store"
)

// Service tries Meilisearch first and falls back to the secondary searcher.
// Index updates are fire-and-forget.
type Service struct {
	meili    *Meili
	fallback Searcher
	records  recordLoader
	logger   *zap.Logger
}

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]PageRecord, []CommentRecord, error)
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured; fallback may be nil when there is no database.
func NewService(m *Meili, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{meili: m, fallback: fallback, logger: logger}
	if loader, ok := fallback.(recordLoader); ok {
		s.records = loader
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back", zap.Error(err))
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", zap.String("query", q.Text), zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) indexing() bool {
	return s.meili != nil && s.meili.Healthy()
}

func (s *Service) IndexPage(_ context.Context, page store.Page) {
	if !s.indexing() {
		return
	}
	record := PageRecord{ID: page.ID, Title: page.Title, Body: page.PlainText, Version: page.LatestVersion}
	go func() {
		if err := s.meili.IndexPages([]PageRecord{record}); err != nil {
			s.logger.Warn("index page", zap.String("page", record.ID), zap.Error(err))
		}
	}()
}

func (s *Service) RemovePage(_ context.Context, pageID string) {
	if !s.indexing() {
		return
	}
	go func() {
		if err := s.meili.DeletePage(pageID); err != nil {
			s.logger.Warn("remove page from index", zap.String("page", pageID), zap.Error(err))
		}
	}()
}

func (s *Service) IndexComment(_ context.Context, c store.Comment) {
	if !s.indexing() || c.IsDeleted() {
		return
	}
	record := commentRecord(c)
	go func() {
		if err := s.meili.IndexComments([]CommentRecord{record}); err != nil {
			s.logger.Warn("index comment", zap.String("comment", record.ID), zap.Error(err))
		}
	}()
}

func (s *Service) RemoveComment(_ context.Context, commentID string) {
	if !s.indexing() {
		return
	}
	go func() {
		if err := s.meili.DeleteComment(commentID); err != nil {
			s.logger.Warn("remove comment from index", zap.String("comment", commentID), zap.Error(err))
		}
	}()
}

// ReindexAll pushes every page and live comment from the database into
// Meilisearch. It is called once at startup.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.indexing() || s.records == nil {
		return
	}
	pages, comments, err := s.records.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", zap.Error(err))
		return
	}
	if err := s.meili.IndexPages(pages); err != nil {
		s.logger.Error("reindex pages", zap.Error(err))
	}
	if err := s.meili.IndexComments(comments); err != nil {
		s.logger.Error("reindex comments", zap.Error(err))
	}
	s.logger.Info("search reindexed", zap.Int("pages", len(pages)), zap.Int("comments", len(comments)))
}

func commentRecord(c store.Comment) CommentRecord {
	return CommentRecord{
		ID:        c.ID,
		PageID:    c.PageID,
		RootID:    c.RootID,
		CreatorID: c.CreatorID,
		Body:      c.PlainText,
		Selection: c.Selection,
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
