// Package sqlstore is a docstore backend on PostgreSQL through gorm. All
// documents share one table; commits take row locks on the keys they touch
// and draw their version from a sequence. Change streams are delivered by a
// docstore.ChangeBus, Redis pub/sub in production, after the commit lands.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/pkg/logger"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const versionSequence = "document_version_seq"

type documentRow struct {
	Path       string    `gorm:"primaryKey;type:text"`
	Collection string    `gorm:"type:text;not null;index:idx_documents_collection_ctime,priority:1"`
	DocID      string    `gorm:"column:doc_id;type:text;not null"`
	Data       string    `gorm:"type:jsonb;not null"`
	Version    int64     `gorm:"not null"`
	CreateTime time.Time `gorm:"not null;index:idx_documents_collection_ctime,priority:2"`
	UpdateTime time.Time `gorm:"not null"`
}

func (documentRow) TableName() string {
	return "documents"
}

func (r documentRow) document() *docstore.Document {
	return &docstore.Document{
		Key:        docstore.Key{Collection: r.Collection, ID: r.DocID},
		Data:       []byte(r.Data),
		Version:    r.Version,
		CreateTime: r.CreateTime.UTC(),
		UpdateTime: r.UpdateTime.UTC(),
	}
}

func rowFor(d *docstore.Document) documentRow {
	return documentRow{
		Path:       d.Key.Path(),
		Collection: d.Key.Collection,
		DocID:      d.Key.ID,
		Data:       string(d.Data),
		Version:    d.Version,
		CreateTime: d.CreateTime,
		UpdateTime: d.UpdateTime,
	}
}

type Store struct {
	db  *gorm.DB
	bus docstore.ChangeBus
}

// New wraps db. The connection should be opened with TranslateError so unique
// violations surface as gorm.ErrDuplicatedKey.
func New(db *gorm.DB, bus docstore.ChangeBus) *Store {
	return &Store{db: db, bus: bus}
}

// Migrate creates the documents table and the version sequence.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&documentRow{}); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	if err := db.Exec("CREATE SEQUENCE IF NOT EXISTS " + versionSequence).Error; err != nil {
		return fmt.Errorf("create version sequence: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key docstore.Key) (*docstore.Document, error) {
	var row documentRow
	err := s.db.WithContext(ctx).Where("path = ?", key.Path()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return row.document(), nil
}

func (s *Store) List(ctx context.Context, collection string) ([]*docstore.Document, error) {
	var rows []documentRow
	err := s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("create_time ASC").Order("doc_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable(err)
	}
	docs := make([]*docstore.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.document())
	}
	return docs, nil
}

func (s *Store) Commit(ctx context.Context, b *docstore.Batch) error {
	if err := b.Err(); err != nil {
		return err
	}
	paths := make([]string, 0, b.Len())
	for _, k := range b.Keys() {
		paths = append(paths, k.Path())
	}

	var changes []docstore.Change
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []documentRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("path IN ?", paths).Order("path").Find(&rows).Error; err != nil {
			return err
		}
		current := make(map[docstore.Key]*docstore.Document, len(rows))
		for _, r := range rows {
			d := r.document()
			current[d.Key] = d
		}

		var version int64
		if err := tx.Raw("SELECT nextval(?)", versionSequence).Scan(&version).Error; err != nil {
			return err
		}
		var now time.Time
		if err := tx.Raw("SELECT clock_timestamp()").Scan(&now).Error; err != nil {
			return err
		}

		planned, err := docstore.Plan(b.Ops(), current, version, now.UTC().Truncate(time.Microsecond))
		if err != nil {
			return err
		}
		for _, c := range writeOrder(planned) {
			if err := apply(tx, c); err != nil {
				return err
			}
		}
		changes = planned
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// a concurrent commit created one of our missing keys first
		return fmt.Errorf("%w: %v", docstore.ErrConflict, err)
	case isRetryableAbort(err):
		return fmt.Errorf("%w: %v", docstore.ErrConflict, err)
	case errors.Is(err, docstore.ErrConflict),
		errors.Is(err, docstore.ErrNotFound),
		errors.Is(err, docstore.ErrInvalidBatch):
		return err
	default:
		return unavailable(err)
	}

	if err := s.bus.Publish(context.WithoutCancel(ctx), changes); err != nil {
		// the commit stands; watchers resync when their stream drops
		logger.Warn("publish committed changes failed", zap.Int("changes", len(changes)), zap.Error(err))
	}
	return nil
}

// writeOrder sorts changes by path so that two batches touching the same keys
// queue on the first shared row instead of deadlocking.
func writeOrder(changes []docstore.Change) []docstore.Change {
	ordered := slices.Clone(changes)
	slices.SortFunc(ordered, func(a, b docstore.Change) int {
		return strings.Compare(a.Key.Path(), b.Key.Path())
	})
	return ordered
}

func apply(tx *gorm.DB, c docstore.Change) error {
	switch c.Type {
	case docstore.Removed:
		return tx.Where("path = ?", c.Key.Path()).Delete(&documentRow{}).Error
	case docstore.Added:
		row := rowFor(c.Document)
		return tx.Create(&row).Error
	default:
		return tx.Model(&documentRow{}).
			Where("path = ?", c.Key.Path()).
			Updates(map[string]any{
				"data":        string(c.Document.Data),
				"version":     c.Document.Version,
				"update_time": c.Document.UpdateTime,
			}).Error
	}
}

func (s *Store) Watch(ctx context.Context, collection string) (docstore.Stream, error) {
	return s.bus.Subscribe(ctx, collection)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Postgres aborts one side of a deadlock or serialization failure; the batch
// did not apply and can be retried like any other conflict.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

func isRetryableAbort(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
}
