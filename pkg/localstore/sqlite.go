package localstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/pickup-checkout/pkg/db/models"
	"github.com/angelmondragon/pickup-checkout/pkg/logger"
)

// SQLiteStore keeps slots in a single sqlite table on the device.
type SQLiteStore struct {
	conn *gorm.DB
}

// OpenSQLite opens (or creates) the sqlite file at path and prepares the slot table.
func OpenSQLite(ctx context.Context, path string, logg *logger.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("local store path is required")
	}
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting local store handle: %w", err)
	}
	// sqlite serialises writers anyway; one connection keeps in-memory
	// databases from splitting across the pool.
	sqlDB.SetMaxOpenConns(1)

	store, err := NewSQLite(conn)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "path", path), "local store ready")
	}
	return store, nil
}

// NewSQLite adopts an open sqlite connection.
func NewSQLite(conn *gorm.DB) (*SQLiteStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("sqlite connection required")
	}
	if err := conn.AutoMigrate(&models.LocalSlot{}); err != nil {
		return nil, fmt.Errorf("migrating local slots: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var slot models.LocalSlot
	err := s.conn.WithContext(ctx).Where("slot_key = ?", key).First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return slot.Value, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key, value string) error {
	slot := models.LocalSlot{Key: key, Value: value}
	return s.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slot_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&slot).Error
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.conn.WithContext(ctx).Where("slot_key = ?", key).Delete(&models.LocalSlot{}).Error
}

// Close releases the underlying file handle.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
