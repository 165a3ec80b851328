// Package scholar searches scholarly works through the CORE v3 API.
package scholar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/pkg/logging"
	"github.com/sweetpotato0/paper-survey/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultEndpoint is the CORE v3 API root.
const DefaultEndpoint = "https://api.core.ac.uk/v3"

// ErrMissingAPIKey is returned when searching without credentials.
var ErrMissingAPIKey = errors.New("scholar: CORE API key is not configured")

// Paper is one search hit.
type Paper struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Date        string   `json:"date"`
	Authors     []string `json:"authors"`
	Abstract    string   `json:"abstract"`
	DownloadURL string   `json:"download_url"`
}

// Searcher finds papers for a query.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Paper, error)
}

// Client talks to the CORE API.
type Client struct {
	endpoint    string
	apiKey      string
	http        *http.Client
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the API root, mainly for tests.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = strings.TrimRight(endpoint, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithRetry sets the attempt ceiling and the first backoff delay.
func WithRetry(attempts int, base time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		if base > 0 {
			c.baseDelay = base
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a CORE client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:    DefaultEndpoint,
		apiKey:      apiKey,
		http:        &http.Client{Timeout: 30 * time.Second},
		maxAttempts: 3,
		baseDelay:   time.Second,
		logger:      logging.WithComponent("scholar"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchRequest struct {
	Q      string `json:"q"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Scroll bool   `json:"scroll"`
}

type searchResponse struct {
	TotalHits int          `json:"totalHits"`
	Results   []coreResult `json:"results"`
}

type coreResult struct {
	ID                 json.Number `json:"id"`
	Title              string      `json:"title"`
	PublishedDate      string      `json:"publishedDate"`
	YearPublished      json.Number `json:"yearPublished"`
	Authors            []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Abstract           string   `json:"abstract"`
	DownloadURL        string   `json:"downloadUrl"`
	SourceFulltextURLs []string `json:"sourceFulltextUrls"`
}

// Search runs a CORE query. Transport failures and 5xx/429 responses are
// retried with exponential backoff.
func (c *Client) Search(ctx context.Context, query string, maxResults int) (papers []Paper, err error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", apperr.ErrInvalidInput)
	}
	if maxResults <= 0 {
		maxResults = 1
	}

	ctx, span := telemetry.Start(ctx, "scholar", "search",
		attribute.String("scholar.query", query),
		attribute.Int("scholar.limit", maxResults),
	)
	defer func() { telemetry.End(span, err) }()

	payload, err := json.Marshal(searchRequest{Q: query, Limit: maxResults})
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	attempts := 0
	parsed, err := backoff.Retry(ctx, func() (*searchResponse, error) {
		attempts++
		return c.post(ctx, "/search/works", payload)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &apperr.TransientExternalError{Op: "CORE search", Attempts: attempts, Err: err}
	}

	papers = make([]Paper, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		papers = append(papers, r.toPaper())
	}
	c.logger.Debug("CORE search", "query", query, "hits", parsed.TotalHits, "returned", len(papers))
	return papers, nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) (*searchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("CORE API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode CORE response: %w", err))
	}
	return &out, nil
}

func (r coreResult) toPaper() Paper {
	p := Paper{
		ID:          r.ID.String(),
		Title:       strings.TrimSpace(r.Title),
		Date:        r.PublishedDate,
		Abstract:    strings.TrimSpace(r.Abstract),
		DownloadURL: r.DownloadURL,
	}
	if p.Date == "" {
		p.Date = r.YearPublished.String()
	}
	if p.DownloadURL == "" && len(r.SourceFulltextURLs) > 0 {
		p.DownloadURL = r.SourceFulltextURLs[0]
	}
	for _, a := range r.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			p.Authors = append(p.Authors, name)
		}
	}
	return p
}

// Format renders papers as the block list handed back to the model.
func Format(papers []Paper) string {
	if len(papers) == 0 {
		return "No results found."
	}
	blocks := make([]string, 0, len(papers))
	for _, p := range papers {
		blocks = append(blocks, fmt.Sprintf(
			"* ID: %s\n* Title: %s\n* Published: %s\n* Authors: %s\n* Abstract: %s\n* Download URL: %s",
			p.ID, p.Title, p.Date, strings.Join(p.Authors, " and "), p.Abstract, p.DownloadURL,
		))
	}
	return strings.Join(blocks, "\n-----\n")
}
