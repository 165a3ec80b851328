// Package archive persists generated survey reports.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/sweetpotato0/paper-survey/config"
	"github.com/sweetpotato0/paper-survey/report"
)

// Store saves and retrieves reports. Implementations are safe for
// concurrent use.
type Store interface {
	// Save persists rep and returns the identifier it can be fetched by.
	Save(ctx context.Context, rep *report.Report) (string, error)
	// Get returns the record with id, or an error wrapping errors.ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)
	// List returns saved reports, newest first, without their Markdown.
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// Record is the persisted form of a report.
type Record struct {
	ID           string       `json:"id" bson:"_id"`
	Topic        string       `json:"topic" bson:"topic"`
	Title        string       `json:"title" bson:"title"`
	Markdown     string       `json:"markdown,omitempty" bson:"markdown,omitempty"`
	Bibliography []string     `json:"bibliography" bson:"bibliography"`
	Stats        report.Stats `json:"stats" bson:"stats"`
	GeneratedAt  time.Time    `json:"generated_at" bson:"generated_at"`
}

// NewRecord converts a report for storage.
func NewRecord(rep *report.Report) Record {
	return Record{
		ID:           rep.ID,
		Topic:        rep.Topic,
		Title:        rep.Title,
		Markdown:     rep.Markdown,
		Bibliography: append([]string(nil), rep.Bibliography...),
		Stats:        rep.Stats,
		GeneratedAt:  rep.GeneratedAt,
	}
}

func validate(rep *report.Report) error {
	if rep == nil {
		return fmt.Errorf("report cannot be nil")
	}
	if rep.ID == "" {
		return fmt.Errorf("report ID cannot be empty")
	}
	return nil
}

// Open builds the store selected by cfg. The "none" backend returns a nil
// store and no error.
func Open(ctx context.Context, cfg config.ArchiveConfig) (Store, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "file":
		return NewFileStore(cfg.Dir)
	case "redis":
		return NewRedisStore(ctx, &RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		})
	case "postgres":
		return NewPostgresStore(ctx, &PostgresConfig{DSN: cfg.Postgres.DSN, Table: cfg.Postgres.Table})
	case "mongo":
		return NewMongoStore(ctx, &MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}
