package models

import (
	"time"
)

// StorageEntry 带过期时间的键值记录（会话持久化）
type StorageEntry struct {
	Key       string     `gorm:"type:varchar(128);primaryKey;comment:存储键" json:"key"`
	Value     string     `gorm:"type:text;not null;comment:JSON 值" json:"value"`
	ExpiresAt *time.Time `gorm:"index:idx_expires_at;comment:过期时间，为空表示不过期" json:"expires_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (StorageEntry) TableName() string {
	return "qd_storage_entries"
}

// Expired 判断记录在 now 时刻是否已过期
func (e *StorageEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}
