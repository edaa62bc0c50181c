// Package app wires the document core behind an HTTP API.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"folio/api/internal/annotation"
	"folio/api/internal/auth"
	"folio/api/internal/cache"
	"folio/api/internal/config"
	"folio/api/internal/doctree"
	"folio/api/internal/export"
	"folio/api/internal/history"
	"folio/api/internal/rbac"
	"folio/api/internal/render"
	"folio/api/internal/schema"
	"folio/api/internal/search"
	"folio/api/internal/store"
	"folio/api/internal/transcode"
)

type Dependencies struct {
	Config   config.Config
	Store    store.Store
	History  history.Log
	Registry *schema.Registry
	Cache    cache.Cache
	Search   *search.Service
	Logger   *zap.Logger
}

type Service struct {
	cfg         config.Config
	store       store.Store
	history     history.Log
	reg         *schema.Registry
	cache       cache.Cache
	renderer    *render.Service
	annotations *annotation.Service
	search      *search.Service
	exporter    *export.Service
	authz       rbac.RoleAuthorizer
	logger      *zap.Logger
	validate    *validator.Validate
	now         func() time.Time

	ingestMu    sync.Mutex
	ingestLocks map[string]*sync.Mutex
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := deps.Registry
	if reg == nil {
		reg = schema.Default()
	}
	c := deps.Cache
	if c == nil {
		c = cache.NewMemoryCache()
	}

	opts := []annotation.Option{annotation.WithLogger(logger.Named("annotation"))}
	if deps.Search != nil {
		opts = append(opts, annotation.WithIndexer(deps.Search))
	}
	annotations := annotation.NewService(deps.Store, deps.History, reg, rbac.RoleAuthorizer{}, opts...)
	renderer := render.NewService(reg, c, deps.Config.RenderCacheTTL(), logger.Named("render"))

	return &Service{
		cfg:         deps.Config,
		store:       deps.Store,
		history:     deps.History,
		reg:         reg,
		cache:       c,
		renderer:    renderer,
		annotations: annotations,
		search:      deps.Search,
		exporter:    export.NewService(deps.History, deps.Store, annotations, renderer, logger.Named("export")),
		logger:      logger,
		validate:    validator.New(),
		now:         func() time.Time { return time.Now().UTC() },
		ingestLocks: map[string]*sync.Mutex{},
	}
}

func (s *Service) Annotations() *annotation.Service {
	return s.annotations
}

func (s *Service) SyncToken() string {
	return s.cfg.SyncToken
}

// ActorFromToken resolves a bearer token to the calling actor.
func (s *Service) ActorFromToken(token string) (rbac.Actor, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return rbac.Actor{}, err
	}
	return rbac.Actor{ID: claims.Subject, Name: claims.Name, Role: rbac.Normalize(claims.Role)}, nil
}

func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	checks["cache"] = s.cache.Ping(ctx)
	return checks
}

func (s *Service) check(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Tag()
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid request", details)
}

func (s *Service) authorize(ctx context.Context, actor rbac.Actor, action rbac.Action, pageID string) error {
	if err := s.authz.Authorize(ctx, actor, action, rbac.Resource{PageID: pageID}); err != nil {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

// IngestRequest is a finalized snapshot delivered by the collaboration
// layer when an editing session ends.
type IngestRequest struct {
	SessionID string          `json:"sessionId" validate:"required,max=200"`
	PageID    string          `json:"-" validate:"required,max=200"`
	Title     string          `json:"title" validate:"max=500"`
	Actor     string          `json:"actor" validate:"max=200"`
	Doc       json.RawMessage `json:"doc" validate:"required"`
}

type IngestResult struct {
	SessionID string `json:"sessionId"`
	PageID    string `json:"pageId"`
	Version   int    `json:"version"`
	Created   bool   `json:"created"`
	Duplicate bool   `json:"duplicate"`
}

// IngestSnapshot appends the session's snapshot to the page history. A
// session id is applied at most once; repeats return the first result. A
// snapshot equal to the latest one does not create a version.
func (s *Service) IngestSnapshot(ctx context.Context, req IngestRequest) (IngestResult, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.PageID = strings.TrimSpace(req.PageID)
	if err := s.check(req); err != nil {
		return IngestResult{}, err
	}

	lock := s.pageIngestLock(req.PageID)
	lock.Lock()
	defer lock.Unlock()

	key := fmt.Sprintf("ingest:%s:%s", req.PageID, req.SessionID)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		var prior IngestResult
		if json.Unmarshal([]byte(cached), &prior) == nil {
			prior.Duplicate = true
			return prior, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("ingest dedup lookup failed", zap.String("key", key), zap.Error(err))
	}

	doc, err := s.parseDocument(req.Doc)
	if err != nil {
		return IngestResult{}, err
	}

	result := IngestResult{SessionID: req.SessionID, PageID: req.PageID}
	latest, err := s.history.Latest(ctx, req.PageID)
	switch {
	case err == nil && doctree.Equal(latest.Doc, doc):
		result.Version = latest.Version
	case err == nil || errors.Is(err, history.ErrNotFound):
		actor := req.Actor
		if actor == "" {
			actor = "sync-gateway"
		}
		snap, err := s.history.Append(ctx, req.PageID, doc, actor, s.now())
		if err != nil {
			return IngestResult{}, fmt.Errorf("append snapshot: %w", err)
		}
		result.Version = snap.Version
		result.Created = true
		if err := s.recordPage(ctx, req, snap); err != nil {
			return IngestResult{}, err
		}
	default:
		return IngestResult{}, fmt.Errorf("load latest snapshot: %w", err)
	}

	if encoded, err := json.Marshal(result); err == nil {
		if err := s.cache.Set(ctx, key, string(encoded), s.cfg.IngestDedupTTL()); err != nil {
			s.logger.Warn("ingest dedup store failed", zap.String("key", key), zap.Error(err))
		}
	}
	s.logger.Info("snapshot ingested",
		zap.String("page", req.PageID),
		zap.String("session", req.SessionID),
		zap.Int("version", result.Version),
		zap.Bool("created", result.Created))
	return result, nil
}

func (s *Service) pageIngestLock(pageID string) *sync.Mutex {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	lock, ok := s.ingestLocks[pageID]
	if !ok {
		lock = &sync.Mutex{}
		s.ingestLocks[pageID] = lock
	}
	return lock
}

func (s *Service) recordPage(ctx context.Context, req IngestRequest, snap history.Snapshot) error {
	plain, err := s.renderer.PlainText(ctx, snap.Doc)
	if err != nil {
		return fmt.Errorf("flatten snapshot: %w", err)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		if existing, err := s.store.GetPage(ctx, req.PageID); err == nil {
			title = existing.Title
		}
	}
	page := store.Page{
		ID:            req.PageID,
		Title:         title,
		LatestVersion: snap.Version,
		SchemaVersion: snap.Doc.SchemaVersion,
		PlainText:     plain,
		UpdatedByID:   snap.AuthorID,
		UpdatedAt:     snap.CreatedAt,
	}
	if err := s.store.UpsertPage(ctx, page); err != nil {
		return fmt.Errorf("record page: %w", err)
	}
	if s.search != nil {
		s.search.IndexPage(ctx, page)
	}
	return nil
}

// parseDocument decodes, normalizes and validates an inbound tree.
func (s *Service) parseDocument(raw json.RawMessage) (doctree.Document, error) {
	doc, err := doctree.Parse(s.reg, raw)
	if err != nil {
		if errors.Is(err, doctree.ErrMaxDepthExceeded) {
			s.logger.Warn("rejected document over depth limit")
			return doctree.Document{}, err
		}
		return doctree.Document{}, domainError(http.StatusUnprocessableEntity, "INVALID_DOCUMENT", err.Error(), nil)
	}
	doc, err = doctree.Normalize(s.reg, doc)
	if err != nil {
		return doctree.Document{}, err
	}
	issues, err := doctree.Validate(s.reg, doc)
	if err != nil {
		return doctree.Document{}, err
	}
	if len(issues) > 0 {
		return doctree.Document{}, domainError(http.StatusUnprocessableEntity, "SCHEMA_ERROR", "Document does not match the schema", issues)
	}
	return doc, nil
}

type PageContent struct {
	PageID    string            `json:"pageId"`
	Title     string            `json:"title"`
	Version   int               `json:"version"`
	AuthorID  string            `json:"authorId"`
	CreatedAt time.Time         `json:"createdAt"`
	Doc       *doctree.Document `json:"doc,omitempty"`
	HTML      string            `json:"html,omitempty"`
	Text      string            `json:"text,omitempty"`
}

// PageContent returns a snapshot as json, html or text. Version 0 is the
// latest snapshot.
func (s *Service) PageContent(ctx context.Context, actor rbac.Actor, pageID string, version int, format string) (PageContent, error) {
	if err := s.authorize(ctx, actor, rbac.ActionRead, pageID); err != nil {
		return PageContent{}, err
	}
	var (
		snap history.Snapshot
		err  error
	)
	if version > 0 {
		snap, err = s.history.Get(ctx, pageID, version)
	} else {
		snap, err = s.history.Latest(ctx, pageID)
	}
	if err != nil {
		return PageContent{}, err
	}

	out := PageContent{PageID: pageID, Version: snap.Version, AuthorID: snap.AuthorID, CreatedAt: snap.CreatedAt}
	if page, err := s.store.GetPage(ctx, pageID); err == nil {
		out.Title = page.Title
	}
	switch format {
	case "", "json":
		out.Doc = &snap.Doc
	case "html":
		out.HTML, err = s.renderer.HTML(ctx, snap.Doc)
	case "text":
		out.Text, err = s.renderer.PlainText(ctx, snap.Doc)
	default:
		return PageContent{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be json, html or text", nil)
	}
	if err != nil {
		return PageContent{}, fmt.Errorf("render snapshot: %w", err)
	}
	return out, nil
}

func (s *Service) PageHistory(ctx context.Context, actor rbac.Actor, pageID string, limit int) ([]history.SnapshotInfo, error) {
	if err := s.authorize(ctx, actor, rbac.ActionRead, pageID); err != nil {
		return nil, err
	}
	items, err := s.history.List(ctx, pageID, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []history.SnapshotInfo{}
	}
	return items, nil
}

type TranscodeHTMLResult struct {
	Doc    doctree.Document        `json:"doc"`
	Issues []transcode.DecodeError `json:"issues"`
}

func (s *Service) TranscodeHTML(ctx context.Context, actor rbac.Actor, src string) (TranscodeHTMLResult, error) {
	if err := s.authorize(ctx, actor, rbac.ActionRead, ""); err != nil {
		return TranscodeHTMLResult{}, err
	}
	doc, issues, err := transcode.FromHTML(s.reg, src)
	if err != nil {
		return TranscodeHTMLResult{}, err
	}
	if issues == nil {
		issues = []transcode.DecodeError{}
	}
	return TranscodeHTMLResult{Doc: doc, Issues: issues}, nil
}

type TranscodeDocResult struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

func (s *Service) TranscodeDoc(ctx context.Context, actor rbac.Actor, raw json.RawMessage) (TranscodeDocResult, error) {
	if err := s.authorize(ctx, actor, rbac.ActionRead, ""); err != nil {
		return TranscodeDocResult{}, err
	}
	doc, err := s.parseDocument(raw)
	if err != nil {
		return TranscodeDocResult{}, err
	}
	html, err := s.renderer.HTML(ctx, doc)
	if err != nil {
		return TranscodeDocResult{}, err
	}
	text, err := s.renderer.PlainText(ctx, doc)
	if err != nil {
		return TranscodeDocResult{}, err
	}
	return TranscodeDocResult{HTML: html, Text: text}, nil
}

func (s *Service) Export(ctx context.Context, actor rbac.Actor, req export.Request) (*export.Result, error) {
	if err := s.authorize(ctx, actor, rbac.ActionRead, req.PageID); err != nil {
		return nil, err
	}
	req.Actor = actor
	return s.exporter.Export(ctx, req)
}

func (s *Service) Search(ctx context.Context, actor rbac.Actor, q search.Query) (search.Response, error) {
	if err := s.authorize(ctx, actor, rbac.ActionRead, q.FilterPageID); err != nil {
		return search.Response{}, err
	}
	q.Text = strings.TrimSpace(q.Text)
	if err := s.check(q); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}
