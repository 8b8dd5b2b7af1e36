package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"audimeta/pkg/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 41172025

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db       *gorm.DB
	authors  *gormAuthors
	books    *gormRepo[domain.Book, BookModel]
	chapters *gormRepo[domain.ChapterSet, ChapterModel]
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so several replicas can boot at once.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&AuthorModel{}, &BookModel{}, &ChapterModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return NewGormStoreWithDB(db), nil
}

// NewGormStoreWithDB wraps an already migrated connection.
func NewGormStoreWithDB(db *gorm.DB) *GormStore {
	return &GormStore{
		db: db,
		authors: &gormAuthors{gormRepo[domain.Author, AuthorModel]{
			db: db, entity: "author", toModel: authorToModel, fromModel: authorFromModel,
		}},
		books: &gormRepo[domain.Book, BookModel]{
			db: db, entity: "book", toModel: bookToModel, fromModel: bookFromModel,
		},
		chapters: &gormRepo[domain.ChapterSet, ChapterModel]{
			db: db, entity: "chapter", toModel: chapterToModel, fromModel: chapterFromModel,
		},
	}
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func (s *GormStore) Authors() AuthorRepository { return s.authors }

func (s *GormStore) Books() Repository[domain.Book] { return s.books }

func (s *GormStore) Chapters() Repository[domain.ChapterSet] { return s.chapters }

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormRepo maps one domain record type T onto its GORM model M.
type gormRepo[T domain.Record[T], M any] struct {
	db        *gorm.DB
	entity    string
	toModel   func(T) (M, error)
	fromModel func(M) (T, error)
}

func (r *gormRepo[T, M]) Find(ctx context.Context, asin, region string) (T, bool, error) {
	var zero T
	var model M
	err := r.db.WithContext(ctx).Where("asin = ? AND region = ?", asin, region).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("find %s %s: %w", r.entity, asin, err)
	}
	record, err := r.fromModel(model)
	if err != nil {
		return zero, false, fmt.Errorf("decode %s %s: %w", r.entity, asin, err)
	}
	return record, true, nil
}

func (r *gormRepo[T, M]) Insert(ctx context.Context, record T) error {
	now := time.Now().UTC()
	createdAt, updatedAt := record.Timestamps()
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = now
	}
	asin, _ := record.Identity()
	model, err := r.toModel(record.WithTimestamps(createdAt, updatedAt))
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", r.entity, asin, err)
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if res.Error != nil {
		return fmt.Errorf("insert %s %s: %w", r.entity, asin, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("insert %s %s: %w", r.entity, asin, ErrDuplicate)
	}
	return nil
}

func (r *gormRepo[T, M]) Update(ctx context.Context, record T) error {
	asin, region := record.Identity()
	model, err := r.toModel(record.WithTimestamps(time.Time{}, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", r.entity, asin, err)
	}
	res := r.db.WithContext(ctx).
		Model(new(M)).
		Where("asin = ? AND region = ?", asin, region).
		Select("*").
		Omit("asin", "region", "created_at").
		Updates(&model)
	if res.Error != nil {
		return fmt.Errorf("update %s %s: %w", r.entity, asin, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFoundf("%s %s not found", r.entity, asin)
	}
	return nil
}

func (r *gormRepo[T, M]) Delete(ctx context.Context, asin, region string) (bool, error) {
	res := r.db.WithContext(ctx).Where("asin = ? AND region = ?", asin, region).Delete(new(M))
	if res.Error != nil {
		return false, fmt.Errorf("delete %s %s: %w", r.entity, asin, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepo[T, M]) FindStale(ctx context.Context, region string, before time.Time) ([]string, error) {
	var asins []string
	err := r.db.WithContext(ctx).
		Model(new(M)).
		Where("region = ? AND updated_at < ?", region, before).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "updated_at"}}).
		Pluck("asin", &asins).Error
	if err != nil {
		return nil, fmt.Errorf("find stale %s in %s: %w", r.entity, region, err)
	}
	return asins, nil
}

type gormAuthors struct {
	gormRepo[domain.Author, AuthorModel]
}

// SearchByName matches authors whose name contains name, case-insensitively.
func (r *gormAuthors) SearchByName(ctx context.Context, name, region string, limit int) ([]domain.Author, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	var models []AuthorModel
	err := r.db.WithContext(ctx).
		Where("region = ? AND name ILIKE ?", region, "%"+escapeLike(strings.TrimSpace(name))+"%").
		Order("name ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("search authors %q: %w", name, err)
	}
	res := make([]domain.Author, 0, len(models))
	for _, m := range models {
		a, err := authorFromModel(m)
		if err != nil {
			return nil, fmt.Errorf("decode author %s: %w", m.ASIN, err)
		}
		res = append(res, a)
	}
	return res, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
