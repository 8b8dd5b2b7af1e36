package store

import (
	"context"
	"errors"
	"time"

	"audimeta/pkg/domain"
)

// Repository persists one entity type keyed by (asin, region).
type Repository[T any] interface {
	// Find returns the stored record; ok is false when it does not exist.
	Find(ctx context.Context, asin, region string) (T, bool, error)
	// Insert stores a new record. Zero timestamps are set to now. An existing
	// record is left untouched and ErrDuplicate is returned.
	Insert(ctx context.Context, record T) error
	// Update replaces every field of an existing record except its creation time.
	Update(ctx context.Context, record T) error
	// Delete reports whether a record was removed.
	Delete(ctx context.Context, asin, region string) (bool, error)
	// FindStale lists ASINs in region whose last update is older than before,
	// oldest first.
	FindStale(ctx context.Context, region string, before time.Time) ([]string, error)
}

// AuthorRepository adds name search on top of the common operations.
type AuthorRepository interface {
	Repository[domain.Author]
	SearchByName(ctx context.Context, name, region string, limit int) ([]domain.Author, error)
}

// Store groups the per-entity repositories.
type Store interface {
	Authors() AuthorRepository
	Books() Repository[domain.Book]
	Chapters() Repository[domain.ChapterSet]
	Ping(ctx context.Context) error
}

// ErrDuplicate is returned by Insert when a record with the same (asin, region)
// is already stored.
var ErrDuplicate = errors.New("record already exists")

// DefaultSearchLimit caps name searches when the caller passes no limit.
const DefaultSearchLimit = 25
