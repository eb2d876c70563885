package logger

import "github.com/rs/zerolog"

const (
	DEBUG = "debug"
	INFO  = "info"
	WARN  = "warn"
	ERROR = "error"
)

// LevelFileEntry 单个日志级别对应的文件
type LevelFileEntry struct {
	Level string
	Path  string
}

type LevelFiles []LevelFileEntry

func (lf LevelFiles) IsEmpty() bool {
	return len(lf) == 0
}

// GetPath 获取指定级别的文件路径
func (lf LevelFiles) GetPath(level string) (string, bool) {
	for _, entry := range lf {
		if entry.Level == level {
			return entry.Path, true
		}
	}
	return "", false
}

type Config struct {
	LevelFiles LevelFiles // 为空时只输出到控制台
	MaxSize    int        // 单文件最大 MB
	MaxBackups int
	MaxAge     int // 天
	Level      string
	Compress   bool
	Console    bool
}

// DefaultConfig SDK 默认只打控制台，宿主程序按需开启文件
func DefaultConfig() Config {
	return Config{
		MaxSize:    10,
		MaxBackups: 30,
		MaxAge:     7,
		Level:      INFO,
		Console:    true,
	}
}

type Builder struct {
	config Config
}

func NewBuilder() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) SetMaxSize(size int) *Builder {
	b.config.MaxSize = size
	return b
}

func (b *Builder) SetMaxBackups(backups int) *Builder {
	b.config.MaxBackups = backups
	return b
}

func (b *Builder) SetMaxAge(days int) *Builder {
	b.config.MaxAge = days
	return b
}

func (b *Builder) SetLevel(level string) *Builder {
	b.config.Level = level
	return b
}

func (b *Builder) EnableCompression(enable bool) *Builder {
	b.config.Compress = enable
	return b
}

func (b *Builder) EnableConsoleOutput(enable bool) *Builder {
	b.config.Console = enable
	return b
}

// AddLevelFile 添加级别文件，path 为空时忽略
func (b *Builder) AddLevelFile(level, path string) *Builder {
	if path == "" {
		return b
	}
	b.config.LevelFiles = append(b.config.LevelFiles, LevelFileEntry{
		Level: level,
		Path:  path,
	})
	return b
}

func (b *Builder) Build() error {
	return initLogger(b.config)
}

// parseLevel 解析等级名称，未知等级按 info 处理
func parseLevel(levelName string) zerolog.Level {
	switch levelName {
	case "debug", "DEBUG":
		return zerolog.DebugLevel
	case "warn", "WARN":
		return zerolog.WarnLevel
	case "error", "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
