package research

import (
	"sync"

	"github.com/sweetpotato0/paper-survey/fetch"
	"github.com/sweetpotato0/paper-survey/report"
)

// Library collects the documents downloaded during one run, in download
// order. Duplicate URLs keep the first copy.
type Library struct {
	mu   sync.RWMutex
	docs []fetch.Document
	seen map[string]struct{}
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{seen: make(map[string]struct{})}
}

// Add stores docs and returns how many were new.
func (l *Library) Add(docs ...fetch.Document) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	added := 0
	for _, d := range docs {
		key := d.ResolvedURL
		if key == "" {
			key = d.URL
		}
		if _, ok := l.seen[key]; ok {
			continue
		}
		l.seen[key] = struct{}{}
		l.docs = append(l.docs, d)
		added++
	}
	return added
}

// Documents returns a snapshot of the stored documents.
func (l *Library) Documents() []fetch.Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]fetch.Document(nil), l.docs...)
}

// ReportDocuments converts the stored documents into report input.
func (l *Library) ReportDocuments() []report.Document {
	docs := l.Documents()
	out := make([]report.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, ToReportDocument(d))
	}
	return out
}

// ToReportDocument maps a fetched document to report input.
func ToReportDocument(d fetch.Document) report.Document {
	source := d.ResolvedURL
	if source == "" {
		source = d.URL
	}
	return report.Document{Title: d.Title, Source: source, Text: d.Text}
}

// Len returns the number of stored documents.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.docs)
}

// Reset drops every document.
func (l *Library) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.docs = nil
	l.seen = make(map[string]struct{})
}
