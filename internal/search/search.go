// Package search indexes page and comment plain text. Meilisearch is used
// when reachable; PostgreSQL full-text search is the fallback.
package search

import "context"

type ResultType string

const (
	ResultPage    ResultType = "page"
	ResultComment ResultType = "comment"
)

type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	PageID  string     `json:"pageId"`
}

type Query struct {
	Text         string     `validate:"required,max=500"`
	FilterType   ResultType `validate:"omitempty,oneof=page comment"`
	FilterPageID string     `validate:"max=200"`
	Limit        int        `validate:"gte=0,lte=100"`
	Offset       int        `validate:"gte=0"`
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// PageRecord is what gets indexed for the current snapshot of a page.
type PageRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Version int    `json:"version"`
}

// CommentRecord is what gets indexed for a live comment.
type CommentRecord struct {
	ID        string `json:"id"`
	PageID    string `json:"pageId"`
	RootID    string `json:"rootId"`
	CreatorID string `json:"creatorId"`
	Body      string `json:"body"`
	Selection string `json:"selection"`
}
