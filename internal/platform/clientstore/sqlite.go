package clientstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClientRecord is the gorm model backing the sqlite driver.
type ClientRecord struct {
	Key       string         `gorm:"primaryKey;column:record_key"`
	Value     datatypes.JSON `gorm:"column:value"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

// TableName pins the table name independent of gorm pluralization.
func (ClientRecord) TableName() string {
	return "client_records"
}

type sqliteStore struct {
	db *gorm.DB
}

// NewSQLite builds a SQLite-backed store. The schema is migrated on open.
func NewSQLite(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	if err := db.AutoMigrate(&ClientRecord{}); err != nil {
		return nil, fmt.Errorf("migrate client records: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("record key required")
	}
	record := &ClientRecord{
		Key:       key,
		Value:     datatypes.JSON(value),
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_key"}},
			UpdateAll: true,
		}).
		Create(record).Error
}

func (s *sqliteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var record ClientRecord
	err := s.db.WithContext(ctx).Where("record_key = ?", key).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(record.Value), true, nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("record_key = ?", key).Delete(&ClientRecord{}).Error
}

func (s *sqliteStore) Keys(ctx context.Context) ([]string, error) {
	var records []ClientRecord
	if err := s.db.WithContext(ctx).Select("record_key").Find(&records).Error; err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(records))
	for _, record := range records {
		keys = append(keys, record.Key)
	}
	return keys, nil
}

func (s *sqliteStore) Close(context.Context) error {
	return nil
}
