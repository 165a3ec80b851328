package fetch

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sweetpotato0/paper-survey/extract"
)

const (
	DefaultMaxAttempts    = 5
	DefaultBaseDelay      = 4 * time.Second
	DefaultConcurrency    = 3
	DefaultAttemptTimeout = 60 * time.Second
	DefaultSaveDir        = "papers"
	DefaultMaxBodyBytes   = 64 << 20
)

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithSaveDir sets the directory downloads are written to. An empty string
// keeps documents in memory only.
func WithSaveDir(dir string) Option {
	return func(f *Fetcher) {
		f.saveDir = dir
	}
}

// WithMaxAttempts bounds attempts per resource.
func WithMaxAttempts(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the first backoff delay; attempt n waits base*2^n.
func WithBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.baseDelay = d
		}
	}
}

// WithAttemptTimeout bounds a single HTTP attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.attemptTimeout = d
		}
	}
}

// WithConcurrency sets the pool ceiling used by FetchAll.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		f.concurrency = n
	}
}

// WithExtractor replaces the text extractor.
func WithExtractor(e extract.Extractor) Option {
	return func(f *Fetcher) {
		if e != nil {
			f.extractor = e
		}
	}
}

// WithClock overrides time.Now, used for filenames.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithUserAgent overrides the browser-like default user agent.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}
