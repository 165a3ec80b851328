package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDF extracts plain text from a PDF blob. The document title comes from the
// info dictionary when present, otherwise from the first line of text.
func PDF(data []byte) (text *Text, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = nil, fmt.Errorf("extract pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}

	body := Normalize(string(raw))
	title := strings.TrimSpace(reader.Trailer().Key("Info").Key("Title").Text())
	if title == "" {
		title = firstLine(body)
	}
	return &Text{Title: title, Body: body, Kind: "pdf"}, nil
}
