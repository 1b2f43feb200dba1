// Package content retrieves submitted artifacts from the content-addressed
// store and normalizes them into reviewable plain text.
//
// Fetch never returns an error: failures degrade to sentinel strings with a
// "[Error" prefix so the pipeline can decide whether to review degraded input
// or abort. The output is capped to bound downstream prompt size.
package content

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// MaxContentLength caps extracted text, roughly 100k tokens.
const MaxContentLength = 400000

// TruncationMarker is appended whenever the cap is hit. Truncation is a size
// bound, not an error.
const TruncationMarker = "\n... (content truncated)"

// ErrorPrefix marks sentinel strings produced in place of content.
const ErrorPrefix = "[Error"

// Store is the byte store Fetch reads from.
type Store interface {
	Cat(ctx context.Context, cid string) ([]byte, error)
}

// Fetcher turns a CID plus file name into reviewable text.
type Fetcher struct {
	store Store
}

func NewFetcher(store Store) *Fetcher {
	return &Fetcher{store: store}
}

// textExtensions pass through without extraction.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".json": true,
	".csv": true, ".go": true, ".js": true, ".ts": true, ".py": true,
	".sol": true, ".html": true, ".css": true, ".yaml": true, ".yml": true,
}

// Fetch retrieves the artifact and converts it to plain text. PDFs go through
// layout text extraction, known text types pass through, anything else yields
// a sentinel naming the unsupported type.
func (f *Fetcher) Fetch(ctx context.Context, cid, fileName string) string {
	data, err := f.store.Cat(ctx, cid)
	if err != nil {
		return fmt.Sprintf("[Error fetching file: %v]", err)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	var text string
	switch {
	case ext == ".pdf":
		text, err = extractPDFText(data)
		if err != nil {
			return fmt.Sprintf("[Error parsing PDF: %v]", err)
		}
	case textExtensions[ext]:
		text = string(data)
	default:
		return fmt.Sprintf("[File type not supported for content extraction: %s]", fileName)
	}

	return Cap(text)
}

// IsError reports whether s is a fetch/extract sentinel rather than content.
func IsError(s string) bool {
	return strings.HasPrefix(s, ErrorPrefix)
}

// Cap truncates text at MaxContentLength and appends the marker.
func Cap(text string) string {
	if len(text) <= MaxContentLength {
		return text
	}
	return text[:MaxContentLength] + TruncationMarker
}
