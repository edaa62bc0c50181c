// Package render wraps the transcoder with a cache keyed by the registry
// version and the structural hash of the document.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"folio/api/internal/cache"
	"folio/api/internal/doctree"
	"folio/api/internal/schema"
	"folio/api/internal/transcode"
)

const DefaultTTL = 24 * time.Hour

type Service struct {
	reg    *schema.Registry
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewService returns a renderer. A nil cache disables caching.
func NewService(reg *schema.Registry, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{reg: reg, cache: c, ttl: ttl, logger: logger}
}

func (s *Service) Registry() *schema.Registry {
	return s.reg
}

func (s *Service) HTML(ctx context.Context, doc doctree.Document) (string, error) {
	return s.cached(ctx, "html", doc, func() (string, error) {
		return transcode.ToHTML(s.reg, doc)
	})
}

func (s *Service) PlainText(ctx context.Context, doc doctree.Document) (string, error) {
	return s.cached(ctx, "text", doc, func() (string, error) {
		return transcode.ToPlainText(s.reg, doc)
	})
}

// cached never fails because of the cache: lookup and store errors are
// logged and the value is computed directly.
func (s *Service) cached(ctx context.Context, kind string, doc doctree.Document, compute func() (string, error)) (string, error) {
	if s.cache == nil {
		return compute()
	}
	hash, err := doctree.Hash(doc)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s:%d:%s", kind, s.reg.Version(), hash)

	value, err := s.cache.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("render cache lookup failed", zap.String("key", key), zap.Error(err))
	}

	value, err = compute()
	if err != nil {
		if errors.Is(err, doctree.ErrMaxDepthExceeded) {
			s.logger.Error("document too deep to render", zap.String("key", key))
		}
		return "", err
	}
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn("render cache store failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}
