package export

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"folio/api/internal/anchor"
	"folio/api/internal/annotation"
	"folio/api/internal/history"
	"folio/api/internal/rbac"
	"folio/api/internal/render"
	"folio/api/internal/store"
)

type PageStore interface {
	GetPage(ctx context.Context, id string) (store.Page, error)
}

type ThreadLister interface {
	ListComments(ctx context.Context, actor rbac.Actor, filter annotation.CommentFilter) ([]annotation.Thread, error)
}

type converter func(ctx context.Context, html, title string) (*Result, error)

type Service struct {
	history  history.Log
	pages    PageStore
	threads  ThreadLister
	renderer *render.Service
	logger   *zap.Logger
	pdf      converter
	docx     converter
}

func NewService(log history.Log, pages PageStore, threads ThreadLister, renderer *render.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		history:  log,
		pages:    pages,
		threads:  threads,
		renderer: renderer,
		logger:   logger,
		pdf:      exportPDF,
		docx:     exportDOCX,
	}
}

func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Format == "" {
		req.Format = FormatHTML
	}
	if _, err := ParseFormat(string(req.Format)); err != nil {
		return nil, fmt.Errorf("%w: %s", err, req.Format)
	}

	snap, err := s.snapshot(ctx, req)
	if err != nil {
		return nil, err
	}

	title := req.PageID
	if s.pages != nil {
		page, err := s.pages.GetPage(ctx, req.PageID)
		switch {
		case err == nil && page.Title != "":
			title = page.Title
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("get page: %w", err)
		}
	}

	var threads []TemplateThread
	if req.IncludeComments && s.threads != nil {
		threads, err = s.templateThreads(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	if req.Format == FormatText {
		return s.exportText(ctx, title, snap, threads)
	}

	contentHTML, err := s.renderer.HTML(ctx, snap.Doc)
	if err != nil {
		return nil, fmt.Errorf("render content: %w", err)
	}
	html, err := RenderDocumentHTML(TemplateData{
		Title:       title,
		PageID:      req.PageID,
		Version:     snap.Version,
		Author:      snap.AuthorID,
		UpdatedAt:   snap.CreatedAt,
		ContentHTML: contentHTML,
		Threads:     threads,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	s.logger.Info("page exported",
		zap.String("page", req.PageID),
		zap.Int("version", snap.Version),
		zap.String("format", string(req.Format)),
		zap.Int("threads", len(threads)))

	switch req.Format {
	case FormatPDF:
		return s.pdf(ctx, html, title)
	case FormatDOCX:
		return s.docx(ctx, html, title)
	default:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	}
}

func (s *Service) snapshot(ctx context.Context, req Request) (history.Snapshot, error) {
	var (
		snap history.Snapshot
		err  error
	)
	if req.Version > 0 {
		snap, err = s.history.Get(ctx, req.PageID, req.Version)
	} else {
		snap, err = s.history.Latest(ctx, req.PageID)
	}
	if errors.Is(err, history.ErrNotFound) || errors.Is(err, history.ErrInvalidPageID) {
		return history.Snapshot{}, fmt.Errorf("%w: %s", ErrContentUnavailable, req.PageID)
	}
	if err != nil {
		return history.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

func (s *Service) templateThreads(ctx context.Context, req Request) ([]TemplateThread, error) {
	threads, err := s.threads.ListComments(ctx, req.Actor, annotation.CommentFilter{PageID: req.PageID})
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	out := make([]TemplateThread, 0, len(threads))
	for _, t := range threads {
		item := TemplateThread{
			Quote:    t.Root.Selection,
			Author:   t.Root.CreatorID,
			Body:     s.commentText(ctx, t.Root),
			Resolved: t.Resolved,
		}
		if t.Root.Resolution != nil && t.Root.Resolution.State != anchor.Bound {
			item.Anchor = string(t.Root.Resolution.State)
		}
		for _, r := range t.Replies {
			item.Replies = append(item.Replies, TemplateReply{Author: r.CreatorID, Body: s.commentText(ctx, r)})
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Service) commentText(ctx context.Context, c annotation.Comment) string {
	text, err := s.renderer.PlainText(ctx, c.Content)
	if err != nil {
		s.logger.Warn("flatten comment for export", zap.String("comment", c.ID), zap.Error(err))
		return ""
	}
	return text
}

func (s *Service) exportText(ctx context.Context, title string, snap history.Snapshot, threads []TemplateThread) (*Result, error) {
	body, err := s.renderer.PlainText(ctx, snap.Doc)
	if err != nil {
		return nil, fmt.Errorf("render content: %w", err)
	}
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	b.WriteString(body)
	b.WriteString("\n")
	if len(threads) > 0 {
		b.WriteString("\nComments\n")
		for _, t := range threads {
			b.WriteString("\n")
			if t.Quote != "" {
				fmt.Fprintf(&b, "> %s\n", t.Quote)
			}
			fmt.Fprintf(&b, "%s: %s\n", t.Author, t.Body)
			for _, r := range t.Replies {
				fmt.Fprintf(&b, "  %s: %s\n", r.Author, r.Body)
			}
		}
	}
	return &Result{
		Data:     []byte(b.String()),
		Filename: sanitizeFilename(title) + ".txt",
		MimeType: "text/plain; charset=utf-8",
	}, nil
}
