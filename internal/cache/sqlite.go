package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

type cacheRow struct {
	CacheKey             string `gorm:"column:cache_key;primaryKey"`
	ActionID             string `gorm:"column:action_id;index"`
	Steps                string `gorm:"column:steps"`
	Transcript           string `gorm:"column:transcript"`
	SuccessfulExecutions int    `gorm:"column:successful_executions"`
	CreatedMs            int64  `gorm:"column:created_ms"`
	UpdatedMs            int64  `gorm:"column:updated_ms"`
}

func (cacheRow) TableName() string { return "action_cache" }

type SQLiteRepository struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the cache database at path.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		closeGorm(gdb)
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	if err := prepareSQLite(gdb); err != nil {
		closeGorm(gdb)
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return &SQLiteRepository{db: gdb}, nil
}

var prepareSQLite = func(gdb *gorm.DB) error {
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return err
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return err
	}
	if err := gdb.AutoMigrate(&cacheRow{}); err != nil {
		return fmt.Errorf("migrate sqlite cache: %w", err)
	}
	return nil
}

// closeGorm releases the pool behind a half-initialized handle.
func closeGorm(gdb *gorm.DB) {
	if gdb == nil || gdb.Config == nil || gdb.ConnPool == nil {
		return
	}
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *SQLiteRepository) Save(ctx context.Context, rec Record) error {
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	row := cacheRow{
		CacheKey:             rec.Key,
		ActionID:             rec.ActionID,
		Steps:                string(steps),
		Transcript:           rec.Transcript,
		SuccessfulExecutions: rec.SuccessfulExecutions,
		CreatedMs:            rec.CreatedAt.UnixMilli(),
		UpdatedMs:            rec.UpdatedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *SQLiteRepository) Find(ctx context.Context, key string) (Record, error) {
	var row cacheRow
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return row.record()
}

func (s *SQLiteRepository) FindByActionID(ctx context.Context, actionID string) ([]Record, error) {
	var rows []cacheRow
	if err := s.db.WithContext(ctx).Where("action_id = ?", actionID).Order("cache_key").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRecords(rows)
}

func (s *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	var rows []cacheRow
	if err := s.db.WithContext(ctx).Order("cache_key").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRecords(rows)
}

func (s *SQLiteRepository) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&cacheRow{}).Error
}

func (s *SQLiteRepository) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&cacheRow{}).Error
}

func (s *SQLiteRepository) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r cacheRow) record() (Record, error) {
	var steps []CachedStep
	if err := json.Unmarshal([]byte(r.Steps), &steps); err != nil {
		return Record{}, fmt.Errorf("decode steps of %s: %w", r.CacheKey, err)
	}
	return Record{
		Key:                  r.CacheKey,
		ActionID:             r.ActionID,
		Steps:                steps,
		Transcript:           r.Transcript,
		SuccessfulExecutions: r.SuccessfulExecutions,
		CreatedAt:            time.UnixMilli(r.CreatedMs).UTC(),
		UpdatedAt:            time.UnixMilli(r.UpdatedMs).UTC(),
	}, nil
}

func toRecords(rows []cacheRow) ([]Record, error) {
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
