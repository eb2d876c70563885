package config

import (
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/utrading/qd-client/pkg/logger"
)

type API struct {
	BaseURL      string        `toml:"base_url"`
	Timeout      time.Duration `toml:"timeout"`
	UserAgent    string        `toml:"user_agent"`
	ProxyEnabled bool          `toml:"proxy_enabled"`
	ProxyAddr    string        `toml:"proxy_addr"`
	Debug        bool          `toml:"debug"`
}

// Storage 会话持久化存储
// Driver: memory / sqlite / mysql / redis
type Storage struct {
	Driver        string `toml:"driver"`
	DSN           string `toml:"dsn"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	KeyPrefix     string `toml:"key_prefix"`
}

type Session struct {
	TTL           time.Duration `toml:"ttl"`
	DefaultAvatar string        `toml:"default_avatar"`
}

type Logger struct {
	Level      string `toml:"level"`
	InfoFile   string `toml:"info_file"`
	ErrorFile  string `toml:"error_file"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
	MaxAge     int    `toml:"max_age"`
	Compress   bool   `toml:"compress"`
	Console    bool   `toml:"console"`
}

type NATS struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	Subject  string `toml:"subject"`
}

// Notification 策略信号通知轮询
type Notification struct {
	Enabled      bool          `toml:"enabled"`
	PollInterval time.Duration `toml:"poll_interval"`
	Limit        int           `toml:"limit"`
	StrategyID   int64         `toml:"strategy_id"`
}

// Monitor 指标与健康检查，Addr 为空时只注册指标不监听端口
type Monitor struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	Namespace string `toml:"namespace"`
}

type Config struct {
	API          API          `toml:"api"`
	Storage      Storage      `toml:"storage"`
	Session      Session      `toml:"session"`
	Logger       Logger       `toml:"log"`
	NATS         NATS         `toml:"nats"`
	Notification Notification `toml:"notification"`
	Monitor      Monitor      `toml:"monitor"`
}

var (
	cfg         *Config
	cfgPath     string
	cfgLock     sync.RWMutex
	lastModTime time.Time
	stopChan    chan struct{}
)

func Default() *Config {
	return &Config{
		API: API{
			BaseURL:      "http://localhost:5000",
			Timeout:      30 * time.Second,
			UserAgent:    "qd-client/1.0",
			ProxyEnabled: false,
			ProxyAddr:    "127.0.0.1:7890",
		},
		Storage: Storage{
			Driver:    "sqlite",
			DSN:       "data/session.db",
			RedisAddr: "localhost:6379",
			KeyPrefix: "qd:",
		},
		Session: Session{
			TTL:           7 * 24 * time.Hour, // 与前端 store 过期时间一致
			DefaultAvatar: "/avatar2.jpg",
		},
		Logger: Logger{
			Level:      "info",
			InfoFile:   "logs/info.log",
			ErrorFile:  "logs/err.log",
			MaxSize:    10,
			MaxBackups: 30,
			MaxAge:     7,
			Compress:   false,
			Console:    false,
		},
		NATS: NATS{
			Enabled:  false,
			Endpoint: "nats://localhost:4222",
			Subject:  "qd_strategy_notification",
		},
		Notification: Notification{
			Enabled:      false,
			PollInterval: 5 * time.Second,
			Limit:        50,
		},
		Monitor: Monitor{
			Enabled:   false,
			Addr:      ":9091",
			Namespace: "qd_client",
		},
	}
}

func Load(path string) error {
	c := Default()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	cfgLock.Lock()
	defer cfgLock.Unlock()
	cfg = c
	cfgPath = path
	lastModTime = info.ModTime()

	return nil
}

// Get 返回当前配置，未加载时返回默认配置
func Get() *Config {
	cfgLock.RLock()
	defer cfgLock.RUnlock()
	if cfg == nil {
		return Default()
	}
	return cfg
}

// Init 加载配置并启动定期重载（默认10秒）
func Init(path string) error {
	return InitWithInterval(path, 10*time.Second)
}

// InitWithInterval 加载配置并指定重载间隔
func InitWithInterval(path string, interval time.Duration) error {
	if err := Load(path); err != nil {
		return err
	}

	stopChan = make(chan struct{})
	go func(stop chan struct{}) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				reloadIfNeeded()
			case <-stop:
				return
			}
		}
	}(stopChan)

	return nil
}

// Stop 停止配置重载
func Stop() {
	if stopChan != nil {
		close(stopChan)
		stopChan = nil
	}
}

// reloadIfNeeded 仅在文件修改时重载
func reloadIfNeeded() {
	cfgLock.RLock()
	path := cfgPath
	lastMod := lastModTime
	cfgLock.RUnlock()

	if path == "" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		logger.Error().Err(err).Msg("config stat failed")
		return
	}

	if info.ModTime().After(lastMod) {
		if err = Load(path); err != nil {
			logger.Error().Err(err).Msg("config reload failed")
		} else {
			logger.Info().Str("path", path).Msg("config reloaded")
		}
	}
}
