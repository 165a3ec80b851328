// Package fetch downloads remote documents with bounded retries, stores them
// in a save directory and extracts their text.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/extract"
	"github.com/sweetpotato0/paper-survey/pkg/logging"
	"github.com/sweetpotato0/paper-survey/pkg/metrics"
	"github.com/sweetpotato0/paper-survey/pkg/telemetry"
	"github.com/sweetpotato0/paper-survey/runner"
	"go.opentelemetry.io/otel/attribute"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// Document is one successfully fetched resource.
type Document struct {
	URL         string    `json:"url"`
	ResolvedURL string    `json:"resolved_url"`
	Path        string    `json:"path,omitempty"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	ContentType string    `json:"content_type"`
	Bytes       int       `json:"bytes"`
	Attempts    int       `json:"attempts"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Failure records a resource that could not be fetched.
type Failure struct {
	URL string
	Err error
}

// BatchResult is the outcome of FetchAll. Documents and Failures keep the
// order of the requested URLs.
type BatchResult struct {
	Documents []Document
	Failures  []Failure
	Succeeded int
	Failed    int
}

// Fetcher downloads resources. It is safe for concurrent use.
type Fetcher struct {
	client         *http.Client
	saveDir        string
	maxAttempts    int
	baseDelay      time.Duration
	attemptTimeout time.Duration
	concurrency    int
	extractor      extract.Extractor
	now            func() time.Time
	logger         *slog.Logger
	userAgent      string
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:         &http.Client{},
		saveDir:        DefaultSaveDir,
		maxAttempts:    DefaultMaxAttempts,
		baseDelay:      DefaultBaseDelay,
		attemptTimeout: DefaultAttemptTimeout,
		concurrency:    DefaultConcurrency,
		extractor:      extract.Default{},
		now:            time.Now,
		logger:         logging.WithComponent("fetch"),
		userAgent:      browserUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SaveDir returns the directory downloads are written to.
func (f *Fetcher) SaveDir() string { return f.saveDir }

// FetchAll fetches urls through the task pool and reports per-URL outcomes.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) (*BatchResult, error) {
	batch, err := runner.Run(ctx, urls, func(ctx context.Context, u string) (*Document, error) {
		return f.Fetch(ctx, u)
	}, f.concurrency, runner.WithName("fetch"))
	if err != nil {
		return nil, err
	}

	out := &BatchResult{Succeeded: batch.Succeeded, Failed: batch.Failed}
	for i, r := range batch.Results {
		if r.Err != nil {
			out.Failures = append(out.Failures, Failure{URL: urls[i], Err: r.Err})
			continue
		}
		out.Documents = append(out.Documents, *r.Value)
	}
	f.logger.Info("bulk fetch finished", "requested", len(urls), "succeeded", out.Succeeded, "failed", out.Failed)
	return out, nil
}

// Fetch downloads one resource, saves it and extracts its text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (doc *Document, err error) {
	started := time.Now()
	ctx, span := telemetry.Start(ctx, "fetch", "resource", attribute.String("fetch.url", rawURL))
	defer func() {
		metrics.FetchDuration.Observe(time.Since(started).Seconds())
		telemetry.End(span, err)
	}()

	target, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	resp, err := f.download(ctx, target)
	if err != nil {
		return nil, err
	}

	// Publisher landing pages advertise the PDF through a citation meta tag.
	if extract.Kind(resp.body, resp.contentType) == "html" {
		if pdfURL := citationPDFURL(resp.body, resp.url); pdfURL != "" && pdfURL != resp.url {
			f.logger.Debug("following citation_pdf_url", "url", rawURL, "pdf", pdfURL)
			if pdfResp, pdfErr := f.download(ctx, pdfURL); pdfErr == nil {
				pdfResp.attempts += resp.attempts
				resp = pdfResp
			}
		}
	}

	doc = &Document{
		URL:         rawURL,
		ResolvedURL: resp.url,
		ContentType: resp.contentType,
		Bytes:       len(resp.body),
		Attempts:    resp.attempts,
		FetchedAt:   f.now(),
	}

	if f.saveDir != "" {
		p, err := f.save(resp)
		if err != nil {
			return nil, err
		}
		doc.Path = p
	}

	text, err := f.extractor.Extract(ctx, resp.body, resp.contentType, resp.url)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", rawURL, err)
	}
	if strings.TrimSpace(text.Body) == "" {
		return nil, fmt.Errorf("extract %s: no text found", rawURL)
	}
	doc.Title = text.Title
	doc.Text = text.Body
	return doc, nil
}

type response struct {
	url         string
	contentType string
	body        []byte
	attempts    int
}

// download performs up to maxAttempts GETs, waiting base*2^attempt between
// attempts. Client errors other than 408 and 429 are not retried.
func (f *Fetcher) download(ctx context.Context, target string) (*response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = f.baseDelay << f.maxAttempts
	b.Reset()

	attempts := 0
	resp, err := backoff.Retry(ctx, func() (*response, error) {
		attempts++
		resp, err := f.attempt(ctx, target)
		metrics.FetchAttempts.WithLabelValues(metrics.Outcome(err)).Inc()
		if err != nil {
			f.logger.Debug("fetch attempt failed", "url", target, "attempt", attempts, "error", err)
		}
		return resp, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(f.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", target, ctxErr)
		}
		var status *statusError
		if errors.As(err, &status) && !status.retryable() {
			return nil, fmt.Errorf("fetch %s: %w", target, err)
		}
		return nil, &apperr.TransientExternalError{Op: "fetch " + target, Attempts: attempts, Err: err}
	}
	resp.attempts = attempts
	return resp, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.code, http.StatusText(e.code))
}

func (e *statusError) retryable() bool {
	return e.code >= 500 || e.code == http.StatusRequestTimeout || e.code == http.StatusTooManyRequests
}

func (f *Fetcher) attempt(ctx context.Context, target string) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, f.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/pdf,text/html;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		statusErr := &statusError{code: resp.StatusCode}
		if !statusErr.retryable() {
			return nil, backoff.Permanent(statusErr)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &response{
		url:         resp.Request.URL.String(),
		contentType: resp.Header.Get("Content-Type"),
		body:        body,
	}, nil
}

func (f *Fetcher) save(resp *response) (string, error) {
	if err := os.MkdirAll(f.saveDir, 0o755); err != nil {
		return "", fmt.Errorf("create save dir: %w", err)
	}
	name := Filename(resp.url, extract.Kind(resp.body, resp.contentType), f.now())
	full := filepath.Join(f.saveDir, name)
	file, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", full, err)
	}
	if _, err := file.Write(resp.body); err != nil {
		file.Close()
		return "", fmt.Errorf("write %s: %w", full, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", full, err)
	}
	return full, nil
}

// NormalizeURL validates rawURL and rewrites arXiv abstract links to the PDF.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: parse url %q: %v", apperr.ErrInvalidInput, rawURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: unsupported url %q", apperr.ErrInvalidInput, rawURL)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host == "arxiv.org" && strings.HasPrefix(u.Path, "/abs/") {
		u.Path = "/pdf/" + strings.TrimPrefix(u.Path, "/abs/")
	}
	return u.String(), nil
}

// Filename derives a collision-free file name: the sanitized URL basename
// when it names a file, always followed by a timestamp and a random suffix.
func Filename(rawURL, kind string, now time.Time) string {
	ext := ".bin"
	switch kind {
	case "pdf":
		ext = ".pdf"
	case "html":
		ext = ".html"
	case "text":
		ext = ".txt"
	}

	stem := ""
	if u, err := url.Parse(rawURL); err == nil {
		base := path.Base(u.Path)
		if base != "." && base != "/" {
			stem = strings.TrimSuffix(base, path.Ext(base))
		}
	}
	stem = unsafeFilenameChars.ReplaceAllString(stem, "_")
	if len(stem) > 80 {
		stem = stem[:80]
	}

	name := now.Format("20060102_150405") + "_" + uuid.NewString()[:8]
	if stem != "" {
		name = stem + "_" + name
	}
	return name + ext
}

func citationPDFURL(body []byte, base string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}
	href, ok := doc.Find(`meta[name="citation_pdf_url"]`).First().Attr("content")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}
