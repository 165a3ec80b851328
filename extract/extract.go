// Package extract turns downloaded bytes (PDF, HTML or plain text) into
// normalized text ready for summarization.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"unicode/utf8"
)

// ErrUnsupported is returned for binary formats without an extractor.
var ErrUnsupported = errors.New("unsupported content type")

// Text is the extracted content of one document.
type Text struct {
	Title string
	Body  string
	Kind  string // pdf, html or text
}

// Extractor converts raw bytes into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType, sourceURL string) (*Text, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, data []byte, contentType, sourceURL string) (*Text, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, data []byte, contentType, sourceURL string) (*Text, error) {
	return f(ctx, data, contentType, sourceURL)
}

// Default dispatches on content sniffing.
type Default struct{}

// Extract implements Extractor.
func (Default) Extract(ctx context.Context, data []byte, contentType, sourceURL string) (*Text, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch Kind(data, contentType) {
	case "pdf":
		return PDF(data)
	case "html":
		return HTML(data, sourceURL)
	case "text":
		body := Normalize(string(data))
		return &Text{Title: firstLine(body), Body: body, Kind: "text"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, contentType)
	}
}

// Kind classifies content as "pdf", "html", "text" or "" when unknown.
func Kind(data []byte, contentType string) string {
	if bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("%PDF-")) {
		return "pdf"
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mediaType == "application/pdf":
		return "pdf"
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return "html"
	case strings.HasPrefix(mediaType, "text/"):
		return "text"
	}
	head := strings.ToLower(string(data[:min(len(data), 512)]))
	if strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html") {
		return "html"
	}
	if utf8.Valid(data) {
		return "text"
	}
	return ""
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			if len(line) > 200 {
				line = line[:200]
			}
			return line
		}
	}
	return ""
}

func parseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return &url.URL{}
	}
	return u
}
