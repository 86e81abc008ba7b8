// Package localstore is the on-device sqlite store: a small key-value table
// for settings and session state, a mirror of remote transactions for offline
// reads, and the pending-op rows backing the offline write queue.
package localstore

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the local database at dbPath and migrates its schema.
func Open(dbPath string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	if err := db.AutoMigrate(&KVEntry{}, &CachedTransaction{}, &PendingOp{}); err != nil {
		return nil, fmt.Errorf("failed to migrate local schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// KVEntry is a single persisted key-value pair (settings snapshot, session
// token and the like).
type KVEntry struct {
	Key       string `gorm:"primaryKey;size:255"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

// Get returns the stored value for key and whether it exists.
func (s *Store) Get(key string) (string, bool, error) {
	var e KVEntry
	err := s.db.First(&e, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return e.Value, true, nil
}

// Set stores value under key, overwriting any previous value.
func (s *Store) Set(key, value string) error {
	e := KVEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&e).Error; err != nil {
		return fmt.Errorf("failed to store key %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(key string) error {
	if err := s.db.Delete(&KVEntry{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("failed to remove key %q: %w", key, err)
	}
	return nil
}
