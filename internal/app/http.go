package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"folio/api/internal/annotation"
	"folio/api/internal/export"
	"folio/api/internal/rbac"
	"folio/api/internal/search"
)

const syncTokenHeader = "x-folio-sync-token"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.cors)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Post("/api/pages/{pageID}/snapshots", s.handleIngest)

	r.Group(func(r chi.Router) {
		r.Use(s.requireActor)

		r.Get("/api/pages/{pageID}/content", s.handleContent)
		r.Get("/api/pages/{pageID}/history", s.handleHistory)
		r.Get("/api/pages/{pageID}/export", s.handleExport)
		r.Get("/api/pages/{pageID}/comments", s.handleListComments)
		r.Post("/api/pages/{pageID}/comments", s.handleCreateComment)

		r.Post("/api/transcode/html", s.handleTranscodeHTML)
		r.Post("/api/transcode/doc", s.handleTranscodeDoc)
		r.Get("/api/search", s.handleSearch)

		r.Route("/api/comments/{commentID}", func(r chi.Router) {
			r.Get("/thread", s.handleThread)
			r.Patch("/", s.handleEditComment)
			r.Delete("/", s.handleDeleteComment)
			r.Post("/resolve", s.handleResolve(true))
			r.Post("/reopen", s.handleResolve(false))
			r.Get("/reactions", s.handleReactionCounts)
			r.Put("/reactions/{type}", s.handleReaction(true))
			r.Delete("/reactions/{type}", s.handleReaction(false))
		})

		r.Get("/api/notifications", s.handleNotifications)
		r.Post("/api/notifications/read-all", s.handleReadAll)
		r.Post("/api/notifications/{notificationID}/read", s.handleRead)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		requestID := chimiddleware.GetReqID(r.Context())
		ww.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(started)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

func (s *HTTPServer) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w.Header(), s.corsOrigin)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type actorKey struct{}

func (s *HTTPServer) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		actor, err := s.service.ActorFromToken(token)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(r *http.Request) rbac.Actor {
	actor, _ := r.Context().Value(actorKey{}).(rbac.Actor)
	return actor
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ping(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	syncToken := strings.TrimSpace(r.Header.Get(syncTokenHeader))
	if syncToken == "" || syncToken != s.service.SyncToken() {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	var body IngestRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	body.PageID = chi.URLParam(r, "pageID")
	result, err := s.service.IngestSnapshot(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created && !result.Duplicate {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (s *HTTPServer) handleContent(w http.ResponseWriter, r *http.Request) {
	version, err := queryInt(r, "version")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	content, err := s.service.PageContent(r.Context(), actorFrom(r), chi.URLParam(r, "pageID"), version, r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := s.service.PageHistory(r.Context(), actorFrom(r), chi.URLParam(r, "pageID"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	version, err := queryInt(r, "version")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.Export(r.Context(), actorFrom(r), export.Request{
		PageID:          chi.URLParam(r, "pageID"),
		Version:         version,
		Format:          format,
		IncludeComments: queryBool(r, "comments"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleTranscodeHTML(w http.ResponseWriter, r *http.Request) {
	var body struct {
		HTML string `json:"html"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.TranscodeHTML(r.Context(), actorFrom(r), body.HTML)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleTranscodeDoc(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Doc json.RawMessage `json:"doc"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if len(body.Doc) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "doc is required", nil)
		return
	}
	result, err := s.service.TranscodeDoc(r.Context(), actorFrom(r), body.Doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	response, err := s.service.Search(r.Context(), actorFrom(r), search.Query{
		Text:         q.Get("q"),
		FilterType:   search.ResultType(q.Get("type")),
		FilterPageID: q.Get("pageId"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := annotation.CommentFilter{
		PageID:    chi.URLParam(r, "pageID"),
		CreatorID: q.Get("creator"),
		Query:     q.Get("q"),
		Limit:     limit,
	}
	if raw := q.Get("resolved"); raw != "" {
		resolved := queryBool(r, "resolved")
		filter.Resolved = &resolved
	}
	threads, err := s.service.Annotations().ListComments(r.Context(), actorFrom(r), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (s *HTTPServer) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var body annotation.CreateCommentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	body.PageID = chi.URLParam(r, "pageID")
	comment, err := s.service.Annotations().CreateComment(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (s *HTTPServer) handleThread(w http.ResponseWriter, r *http.Request) {
	thread, err := s.service.Annotations().GetThread(r.Context(), actorFrom(r), chi.URLParam(r, "commentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (s *HTTPServer) handleEditComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content json.RawMessage `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	comment, err := s.service.Annotations().EditComment(r.Context(), actorFrom(r), chi.URLParam(r, "commentID"), body.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comment)
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Annotations().DeleteComment(r.Context(), actorFrom(r), chi.URLParam(r, "commentID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleResolve(resolved bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		annotations := s.service.Annotations()
		commentID := chi.URLParam(r, "commentID")
		var (
			thread annotation.Thread
			err    error
		)
		if resolved {
			thread, err = annotations.Resolve(r.Context(), actorFrom(r), commentID)
		} else {
			thread, err = annotations.Reopen(r.Context(), actorFrom(r), commentID)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, thread)
	}
}

func (s *HTTPServer) handleReactionCounts(w http.ResponseWriter, r *http.Request) {
	annotations := s.service.Annotations()
	commentID := chi.URLParam(r, "commentID")
	if _, err := annotations.GetThread(r.Context(), actorFrom(r), commentID); err != nil {
		s.fail(w, r, err)
		return
	}
	counts, err := annotations.ReactionCounts(r.Context(), commentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reactions": counts})
}

func (s *HTTPServer) handleReaction(add bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		annotations := s.service.Annotations()
		commentID := chi.URLParam(r, "commentID")
		reactionType := chi.URLParam(r, "type")
		var (
			counts []annotation.ReactionCount
			err    error
		)
		if add {
			counts, err = annotations.AddReaction(r.Context(), actorFrom(r), commentID, reactionType)
		} else {
			counts, err = annotations.RemoveReaction(r.Context(), actorFrom(r), commentID, reactionType)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reactions": counts})
	}
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := s.service.Annotations().ListNotifications(r.Context(), actorFrom(r), queryBool(r, "unread"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.Annotations().MarkRead(r.Context(), actorFrom(r), chi.URLParam(r, "notificationID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *HTTPServer) handleReadAll(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.Annotations().MarkAllRead(r.Context(), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": count})
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Folio-Sync-Token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", key+" must be a non-negative integer", nil)
	}
	return n, nil
}

func queryBool(r *http.Request, key string) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get(key))) {
	case "1", "true", "yes":
		return true
	}
	return false
}
