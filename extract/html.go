package extract

import (
	"strings"

	"github.com/go-shiori/go-readability"
)

// HTML extracts the main article of a page with readability and falls back to
// a structural walk of the document when readability finds nothing.
func HTML(data []byte, sourceURL string) (*Text, error) {
	html := string(data)
	article, err := readability.FromReader(strings.NewReader(html), parseURL(sourceURL))
	if err == nil {
		if body := Normalize(article.TextContent); body != "" {
			return &Text{Title: strings.TrimSpace(article.Title), Body: body, Kind: "html"}, nil
		}
	}

	body, err := HTMLToText(html)
	if err != nil {
		return nil, err
	}
	return &Text{Title: firstLine(body), Body: Normalize(body), Kind: "html"}, nil
}
