package app

import (
	"errors"
	"fmt"
	"net/http"

	"folio/api/internal/annotation"
	"folio/api/internal/auth"
	"folio/api/internal/doctree"
	"folio/api/internal/export"
	"folio/api/internal/history"
	"folio/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, annotation.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, annotation.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, annotation.ErrParentNotFound):
		return http.StatusNotFound, "PARENT_NOT_FOUND", "Parent comment not found", nil
	case errors.Is(err, annotation.ErrCommentNotFound):
		return http.StatusNotFound, "COMMENT_NOT_FOUND", "Comment not found", nil
	case errors.Is(err, annotation.ErrNotificationNotFound):
		return http.StatusNotFound, "NOTIFICATION_NOT_FOUND", "Notification not found", nil
	case errors.Is(err, history.ErrNotFound), errors.Is(err, export.ErrContentUnavailable):
		return http.StatusNotFound, "SNAPSHOT_NOT_FOUND", "Snapshot not found", nil
	case errors.Is(err, history.ErrInvalidPageID):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid page id", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, doctree.ErrMaxDepthExceeded):
		return http.StatusUnprocessableEntity, "MAX_DEPTH_EXCEEDED", "Document nesting is too deep", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unsupported format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export format is not available on this server", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Internal server error", nil
}
