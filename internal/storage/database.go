package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/utrading/qd-client/internal/dal"
	"github.com/utrading/qd-client/internal/models"
)

// Database 基于 gorm 的持久化存储，过期记录在读取时清理
type Database struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabase 使用已打开的连接，调用方负责 AutoMigrate
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db, now: time.Now}
}

func (d *Database) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	entry := models.StorageEntry{
		Key:   key,
		Value: string(value),
	}
	if !expiresAt.IsZero() {
		t := expiresAt.UTC()
		entry.ExpiresAt = &t
	}

	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&entry).Error
}

func (d *Database) Get(ctx context.Context, key string) ([]byte, error) {
	var entry models.StorageEntry
	err := d.db.WithContext(ctx).Where("`key` = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if entry.Expired(d.now()) {
		if err = d.Remove(ctx, key); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	return []byte(entry.Value), nil
}

func (d *Database) Remove(ctx context.Context, key string) error {
	return d.db.WithContext(ctx).Where("`key` = ?", key).Delete(&models.StorageEntry{}).Error
}

// PurgeExpired 删除所有已过期记录，返回删除条数
func (d *Database) PurgeExpired(ctx context.Context) (int64, error) {
	res := d.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", d.now().UTC()).
		Delete(&models.StorageEntry{})
	return res.RowsAffected, res.Error
}

func (d *Database) Close() error {
	dal.Close(d.db)
	return nil
}
