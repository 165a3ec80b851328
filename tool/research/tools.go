// Package research provides the built-in tools of the research assistant:
// paper search, downloads and human feedback.
package research

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sweetpotato0/paper-survey/fetch"
	"github.com/sweetpotato0/paper-survey/scholar"
	"github.com/sweetpotato0/paper-survey/tool"
)

// Tool names as seen by the model.
const (
	SearchPapers     = "search-papers"
	DownloadPaper    = "download-paper"
	DownloadPapers   = "download-papers"
	AskHumanFeedback = "ask-human-feedback"
)

const defaultPreviewChars = 12000

// Fetcher is the subset of fetch.Fetcher used by the tools.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Document, error)
	FetchAll(ctx context.Context, urls []string) (*fetch.BatchResult, error)
}

// Toolkit wires the research tools to their collaborators.
type Toolkit struct {
	searcher     scholar.Searcher
	fetcher      Fetcher
	library      *Library
	autoDownload bool
	previewChars int

	humanMu sync.Mutex
	in      *bufio.Reader
	out     io.Writer
}

// Option configures a Toolkit.
type Option func(*Toolkit)

// WithAutoDownload makes search-papers download every hit into the library.
func WithAutoDownload(enable bool) Option {
	return func(k *Toolkit) {
		k.autoDownload = enable
	}
}

// WithPreviewChars caps how much document text a download returns to the model.
func WithPreviewChars(n int) Option {
	return func(k *Toolkit) {
		if n > 0 {
			k.previewChars = n
		}
	}
}

// WithHumanIO sets where feedback questions are written and answers read.
func WithHumanIO(in io.Reader, out io.Writer) Option {
	return func(k *Toolkit) {
		if in != nil {
			k.in = bufio.NewReader(in)
		}
		if out != nil {
			k.out = out
		}
	}
}

// NewToolkit creates a toolkit. library may be shared with the report phase.
func NewToolkit(searcher scholar.Searcher, fetcher Fetcher, library *Library, opts ...Option) *Toolkit {
	if library == nil {
		library = NewLibrary()
	}
	k := &Toolkit{
		searcher:     searcher,
		fetcher:      fetcher,
		library:      library,
		previewChars: defaultPreviewChars,
		out:          io.Discard,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Library returns the document library.
func (k *Toolkit) Library() *Library { return k.library }

// Tools returns the tool definitions backed by configured collaborators.
func (k *Toolkit) Tools() []*tool.Tool {
	var tools []*tool.Tool
	if k.searcher != nil {
		tools = append(tools, k.searchTool())
	}
	if k.fetcher != nil {
		tools = append(tools, k.downloadTool(), k.bulkDownloadTool())
	}
	if k.in != nil {
		tools = append(tools, k.feedbackTool())
	}
	return tools
}

// Register adds the tools to registry.
func (k *Toolkit) Register(registry *tool.Registry) error {
	for _, t := range k.Tools() {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (k *Toolkit) searchTool() *tool.Tool {
	return &tool.Tool{
		Name: SearchPapers,
		Description: "Search scientific papers through the CORE API. Supports AND/OR, grouping, " +
			"field lookups such as title:, authors: and yearPublished>=2023. " +
			`Example: {"query": "Attention is all you need", "max_papers": 1}`,
		Parameters: []tool.Parameter{
			{Name: "query", Type: "string", Description: "CORE query string", Required: true},
			{Name: "max_papers", Type: "integer", Description: "Maximum number of papers to return (1-100)", Default: 1},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, err := tool.String(args, "query")
			if err != nil {
				return "", err
			}
			limit, err := tool.Int(args, "max_papers", 1)
			if err != nil {
				return "", err
			}
			if limit < 1 || limit > 100 {
				return "", fmt.Errorf("max_papers must be between 1 and 100, got %d", limit)
			}

			papers, err := k.searcher.Search(ctx, query, limit)
			if err != nil {
				return "", err
			}
			out := scholar.Format(papers)
			if !k.autoDownload || k.fetcher == nil {
				return out, nil
			}

			var urls []string
			for _, p := range papers {
				if p.DownloadURL != "" {
					urls = append(urls, p.DownloadURL)
				}
			}
			if len(urls) == 0 {
				return out, nil
			}
			batch, err := k.fetcher.FetchAll(ctx, urls)
			if err != nil {
				return out, nil
			}
			k.library.Add(batch.Documents...)
			return out + "\n\n" + batchSummary(batch), nil
		},
	}
}

func (k *Toolkit) downloadTool() *tool.Tool {
	return &tool.Tool{
		Name: DownloadPaper,
		Description: "Download a scientific paper from a URL and return its text. " +
			"If only a title is known, use search-papers first to find the download URL. " +
			`Example: {"url": "https://arxiv.org/pdf/1706.03762"}`,
		Parameters: []tool.Parameter{
			{Name: "url", Type: "string", Description: "Direct link to the paper", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			url, err := tool.String(args, "url")
			if err != nil {
				return "", err
			}
			doc, err := k.fetcher.Fetch(ctx, url)
			if err != nil {
				return "", err
			}
			k.library.Add(*doc)

			var b strings.Builder
			if doc.Path != "" {
				fmt.Fprintf(&b, "Saved to: %s\n", doc.Path)
			}
			if doc.Title != "" {
				fmt.Fprintf(&b, "Title: %s\n", doc.Title)
			}
			text := doc.Text
			if r := []rune(text); len(r) > k.previewChars {
				text = string(r[:k.previewChars]) + "\n[truncated]"
			}
			fmt.Fprintf(&b, "Content:\n%s", text)
			return b.String(), nil
		},
	}
}

func (k *Toolkit) bulkDownloadTool() *tool.Tool {
	return &tool.Tool{
		Name:        DownloadPapers,
		Description: "Download several papers in parallel and keep them for report generation. Returns success and failure counts.",
		Parameters: []tool.Parameter{
			{Name: "urls", Type: "array", Items: "string", Description: "Links to the papers", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			urls, err := tool.Strings(args, "urls")
			if err != nil {
				return "", err
			}
			batch, err := k.fetcher.FetchAll(ctx, urls)
			if err != nil {
				return "", err
			}
			k.library.Add(batch.Documents...)
			return batchSummary(batch), nil
		},
	}
}

func (k *Toolkit) feedbackTool() *tool.Tool {
	return &tool.Tool{
		Name:        AskHumanFeedback,
		Description: "Ask the human for feedback. Use it when an unexpected error occurs or the request is ambiguous.",
		Parameters: []tool.Parameter{
			{Name: "question", Type: "string", Description: "Question for the human", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			question, err := tool.String(args, "question")
			if err != nil {
				return "", err
			}
			k.humanMu.Lock()
			defer k.humanMu.Unlock()

			fmt.Fprintf(k.out, "[feedback requested] %s: ", question)
			answer, err := k.in.ReadString('\n')
			if err != nil && (err != io.EOF || answer == "") {
				return "", fmt.Errorf("read feedback: %w", err)
			}
			return strings.TrimSpace(answer), nil
		},
	}
}

func batchSummary(batch *fetch.BatchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Downloaded %d of %d papers (%d failed).", batch.Succeeded, batch.Succeeded+batch.Failed, batch.Failed)
	for _, d := range batch.Documents {
		title := d.Title
		if title == "" {
			title = d.URL
		}
		fmt.Fprintf(&b, "\n- ok: %s", title)
	}
	for _, f := range batch.Failures {
		fmt.Fprintf(&b, "\n- failed: %s (%v)", f.URL, f.Err)
	}
	return b.String()
}
