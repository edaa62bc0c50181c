// Package annotation implements comments, reactions and notifications
// anchored to page snapshots.
package annotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"folio/api/internal/history"
	"folio/api/internal/rbac"
	"folio/api/internal/schema"
	"folio/api/internal/store"
	"folio/api/internal/util"
)

var (
	ErrParentNotFound       = errors.New("annotation: parent comment not found")
	ErrCommentNotFound      = errors.New("annotation: comment not found")
	ErrNotificationNotFound = errors.New("annotation: notification not found")
	ErrForbidden            = errors.New("annotation: forbidden")
	ErrInvalidInput         = errors.New("annotation: invalid input")
)

// Authorizer is consulted before every mutation and query. Any error denies.
type Authorizer interface {
	Authorize(ctx context.Context, actor rbac.Actor, action rbac.Action, res rbac.Resource) error
}

// Indexer receives comment changes for free-text search. Calls must not
// block the caller.
type Indexer interface {
	IndexComment(ctx context.Context, comment store.Comment)
	RemoveComment(ctx context.Context, commentID string)
}

type Service struct {
	store    store.Store
	history  history.Log
	reg      *schema.Registry
	authz    Authorizer
	indexer  Indexer
	logger   *zap.Logger
	now      func() time.Time
	newID    func(prefix string) string
	validate *validator.Validate
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIndexer(indexer Indexer) Option {
	return func(s *Service) { s.indexer = indexer }
}

func WithIDGenerator(newID func(prefix string) string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func NewService(st store.Store, log history.Log, reg *schema.Registry, authz Authorizer, opts ...Option) *Service {
	s := &Service{
		store:    st,
		history:  log,
		reg:      reg,
		authz:    authz,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    util.NewID,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) authorize(ctx context.Context, actor rbac.Actor, action rbac.Action, res rbac.Resource) error {
	if s.authz == nil {
		return nil
	}
	if err := s.authz.Authorize(ctx, actor, action, res); err != nil {
		s.logger.Debug("annotation action denied",
			zap.String("actor", actor.ID),
			zap.String("action", string(action)),
			zap.String("page", res.PageID),
			zap.String("comment", res.CommentID),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	return nil
}

func (s *Service) check(input any) error {
	if err := s.validate.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

// comment loads a live comment; missing and deleted rows are both
// ErrCommentNotFound.
func (s *Service) comment(ctx context.Context, commentID string, allowDeleted bool) (store.Comment, error) {
	c, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Comment{}, fmt.Errorf("%w: %s", ErrCommentNotFound, commentID)
	}
	if err != nil {
		return store.Comment{}, err
	}
	if c.IsDeleted() && !allowDeleted {
		return store.Comment{}, fmt.Errorf("%w: %s", ErrCommentNotFound, commentID)
	}
	return c, nil
}
