package content

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	multiSpaceRe  = regexp.MustCompile(`\s+`)
	splitDigitsRe = regexp.MustCompile(`([0-9]) ([0-9])`)
	splitCapsRe   = regexp.MustCompile(`([A-Z]) ([A-Z])`)
	spacedPunctRe = regexp.MustCompile(` ([.,!?;:])`)
)

// extractPDFText pulls layout text out of a PDF and cleans up the artifacts
// extraction leaves behind: repeated whitespace, words split across text
// runs, stray spaces before punctuation.
func extractPDFText(data []byte) (text string, err error) {
	// the pdf library panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	text = NormalizeExtractedText(string(raw))
	if text == "" {
		return "[No text content found in PDF]", nil
	}
	return text, nil
}

// NormalizeExtractedText collapses whitespace, rejoins runs the extractor
// split mid-number and mid-acronym, and fixes spacing before punctuation.
func NormalizeExtractedText(s string) string {
	s = multiSpaceRe.ReplaceAllString(s, " ")
	// repeated passes because the replacements overlap on consecutive splits
	for prev := ""; prev != s; {
		prev = s
		s = splitDigitsRe.ReplaceAllString(s, "$1$2")
		s = splitCapsRe.ReplaceAllString(s, "$1$2")
	}
	s = spacedPunctRe.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}
