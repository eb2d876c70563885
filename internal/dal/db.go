package dal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/utrading/qd-client/config"
	"github.com/utrading/qd-client/internal/models"
	"github.com/utrading/qd-client/pkg/logger"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

type GormLogger struct{}

func (l GormLogger) Printf(f string, args ...any) {
	log.Printf(f, args...)
}

func (l GormLogger) Print(args ...any) {
	log.Print(args...)
}

// Open 按配置打开数据库连接（sqlite / mysql）
func Open(cfg config.Storage) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite:
		if dir := filepath.Dir(cfg.DSN); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create sqlite dir failed: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DSN)
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	newLogger := gormlogger.New(
		GormLogger{}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			Colorful:                  false,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s failed: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverMySQL {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql.DB failed: %w", err)
		}
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxIdleTime(time.Hour)
		sqlDB.SetConnMaxLifetime(2 * time.Hour)
	}

	logger.Info().Str("driver", cfg.Driver).Msg("database connected")

	return db, nil
}

// Close 关闭数据库连接
func Close(db *gorm.DB) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Error().Err(err).Msg("get sql.DB failed")
		return
	}
	if err = sqlDB.Close(); err != nil {
		logger.Error().Err(err).Msg("close database failed")
		return
	}

	logger.Info().Msg("database closed")
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	modelList := []any{
		&models.StorageEntry{},
	}

	for _, model := range modelList {
		if err := db.AutoMigrate(model); err != nil {
			log.Warn().Err(err).
				Str("table", getTableName(model)).
				Msg("auto migrate failed")
			return err
		}
		log.Debug().Str("table", getTableName(model)).Msg("auto migrate success")
	}

	return nil
}

// getTableName 获取模型的表名
func getTableName(model any) string {
	if t, ok := model.(interface{ TableName() string }); ok {
		return t.TableName()
	}
	return "unknown"
}
