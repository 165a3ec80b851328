package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/report"
)

// FileStore writes each report as survey_report_<timestamp>_<id>.md with a
// JSON sidecar holding its metadata.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// FileName returns the base name used for rep.
func FileName(rep *report.Report) string {
	short := rep.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("survey_report_%s_%s", rep.GeneratedAt.Format("20060102_150405"), short)
}

// Save writes the Markdown and the sidecar. The returned ID is the base name.
func (s *FileStore) Save(ctx context.Context, rep *report.Report) (string, error) {
	if err := validate(rep); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := FileName(rep)
	rec := NewRecord(rep)
	rec.ID = id
	meta, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(filepath.Join(s.dir, id+".md"), []byte(rep.Markdown), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, id+".json"), meta, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report metadata: %w", err)
	}
	return id, nil
}

// Get reads the record for id.
func (s *FileStore) Get(ctx context.Context, id string) (*Record, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: report id %q", apperr.ErrInvalidInput, id)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("report %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &rec, nil
}

// List returns every saved report, newest first.
func (s *FileStore) List(ctx context.Context) ([]Record, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "survey_report_*.json"))
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(paths))
	for _, p := range paths {
		id := strings.TrimSuffix(filepath.Base(p), ".json")
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		rec.Markdown = ""
		records = append(records, *rec)
	}
	sortNewestFirst(records)
	return records, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

func sortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].GeneratedAt.After(records[j].GeneratedAt)
	})
}
