// Package export renders a page snapshot, optionally with its comment
// threads, to HTML, PDF, DOCX or plain text.
package export

import (
	"errors"
	"time"

	"folio/api/internal/rbac"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatText Format = "text"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatHTML, FormatPDF, FormatDOCX, FormatText:
		return f, nil
	case "":
		return FormatHTML, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request selects what to export. Version 0 means the latest snapshot.
type Request struct {
	PageID          string
	Version         int
	Format          Format
	IncludeComments bool
	Actor           rbac.Actor
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable means the page has no snapshot to export.
	ErrContentUnavailable = errors.New("export content unavailable")
	ErrUnsupportedFormat  = errors.New("export format unsupported")
	// ErrPDFDependencyMissing means no chromium binary was found.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing means no pandoc binary was found.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)

// TemplateData feeds templates/document.html.
type TemplateData struct {
	Title       string
	PageID      string
	Version     int
	Author      string
	UpdatedAt   time.Time
	ContentHTML string
	Threads     []TemplateThread
}

type TemplateThread struct {
	Quote    string
	Anchor   string
	Author   string
	Body     string
	Resolved bool
	Replies  []TemplateReply
}

type TemplateReply struct {
	Author string
	Body   string
}
