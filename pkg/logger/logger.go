package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logMu             sync.Mutex
	lumberjackWriters []*lumberjack.Logger
	TimeFormat        = "2006-01-02 15:04:05"
)

func initLogger(config Config) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.SetGlobalLevel(parseLevel(config.Level))

	for _, entry := range config.LevelFiles {
		if err := os.MkdirAll(filepath.Dir(entry.Path), 0755); err != nil {
			return err
		}
	}

	writers := make([]io.Writer, 0, len(config.LevelFiles)+1)
	ljs := make([]*lumberjack.Logger, 0, len(config.LevelFiles))

	for _, entry := range config.LevelFiles {
		lj := &lumberjack.Logger{
			Filename:   entry.Path,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		ljs = append(ljs, lj)
		writers = append(writers, &levelFilterWriter{
			min:    parseLevel(entry.Level),
			Writer: lj,
		})
	}

	if config.Console || len(writers) == 0 {
		writers = append(writers, &zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: TimeFormat,
		})
	}

	logMu.Lock()
	defer logMu.Unlock()

	closeAllWriters()
	lumberjackWriters = ljs
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Caller().Logger()

	return nil
}

// levelFilterWriter 只写入 >= min 的日志，error 文件只收 error，info 文件收全部
type levelFilterWriter struct {
	min zerolog.Level
	io.Writer
}

func (w *levelFilterWriter) WriteLevel(level zerolog.Level, p []byte) (n int, err error) {
	if level < w.min {
		return len(p), nil
	}
	return w.Writer.Write(p)
}

func closeAllWriters() {
	for _, lj := range lumberjackWriters {
		if err := lj.Close(); err != nil {
			log.Logger.Err(err).Str("file", lj.Filename).Msg("failed to close lumberjack writer")
		}
	}
	lumberjackWriters = nil
}

// L 返回全局 logger
func L() zerolog.Logger {
	return log.Logger
}

func Info() *zerolog.Event {
	return log.Logger.Info()
}

func Debug() *zerolog.Event {
	return log.Logger.Debug()
}

func Error() *zerolog.Event {
	return log.Logger.Error()
}

func Warn() *zerolog.Event {
	return log.Logger.Warn()
}

// Err 直接记录错误
func Err(err error) *zerolog.Event {
	return log.Logger.Err(err)
}

// With 返回带固定字段的子 logger
func With(fields map[string]any) zerolog.Logger {
	return log.Logger.With().Fields(fields).Logger()
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	closeAllWriters()
}
