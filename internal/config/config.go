package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/adapter/out/kafka"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/adapter/out/redis"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-wallet-ledger/pkg/mysql"
	"github.com/JoeShih716/go-wallet-ledger/pkg/postgres"
	"github.com/JoeShih716/go-wallet-ledger/pkg/sqlite"
	"github.com/JoeShih716/go-wallet-ledger/pkg/tracing"
)

// DefaultPath 預設設定檔路徑
const DefaultPath = "config/config.yaml"

// 儲存層種類
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// UsersStatic users.target 設為此值時使用固定名單 (全部放行)
const UsersStatic = "static"

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Log      LogConfig       `yaml:"log"`
	Store    StoreConfig     `yaml:"store"`
	MySQL    mysql.Config    `yaml:"mysql"`
	Postgres postgres.Config `yaml:"postgres"`
	SQLite   sqlite.Config   `yaml:"sqlite"`
	Memory   MemoryConfig    `yaml:"memory"`
	Ledger   LedgerConfig    `yaml:"ledger"`
	Redis    redis.Config    `yaml:"redis"`
	Kafka    kafka.Config    `yaml:"kafka"`
	Users    UsersConfig     `yaml:"users"`
	Tracing  tracing.Config  `yaml:"tracing"`
}

type ServerConfig struct {
	GRPCAddr        string        `yaml:"grpc_addr"`
	HTTPAddr        string        `yaml:"http_addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Mode  string `yaml:"mode"`  // development / production
	Level string `yaml:"level"` // debug / info / warn / error
}

type StoreConfig struct {
	Driver      string `yaml:"driver"` // mysql / postgres / sqlite / memory
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type MemoryConfig struct {
	WALPath string `yaml:"wal_path"` // 空字串時不持久化
}

type LedgerConfig struct {
	DefaultPageSize int           `yaml:"default_page_size"`
	MaxPageSize     int           `yaml:"max_page_size"`
	LockTimeout     time.Duration `yaml:"lock_timeout"`
}

type UsersConfig struct {
	Target  string        `yaml:"target"` // 使用者服務地址，或 "static"
	Timeout time.Duration `yaml:"timeout"`
}

// Load 讀取設定
//
// 順序: .env (若存在) -> YAML 檔 -> 環境變數覆寫 -> 預設值 -> 驗證
//
// 參數:
//
//	path: 設定檔路徑，空字串時依序使用 LEDGER_CONFIG、DefaultPath
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("LEDGER_CONFIG")
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse 解析 YAML 內容並套用環境變數與預設值
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 機密與部署相關的值可由環境變數覆寫
func (c *Config) applyEnv() {
	overrides := []struct {
		key    string
		target *string
	}{
		{"LEDGER_STORE_DRIVER", &c.Store.Driver},
		{"MYSQL_HOST", &c.MySQL.Host},
		{"MYSQL_PASSWORD", &c.MySQL.Password},
		{"POSTGRES_HOST", &c.Postgres.Host},
		{"POSTGRES_PASSWORD", &c.Postgres.Password},
		{"REDIS_ADDR", &c.Redis.Addr},
		{"REDIS_PASSWORD", &c.Redis.Password},
		{"USERS_GRPC_TARGET", &c.Users.Target},
		{"LOG_MODE", &c.Log.Mode},
		{"LOG_LEVEL", &c.Log.Level},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.Endpoint},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.key)); v != "" {
			*o.target = v
		}
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
}

func (c *Config) setDefaults() {
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = ":50051"
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "development"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	c.MySQL.SetDefaults()
	c.Postgres.SetDefaults()
	if c.Ledger.DefaultPageSize == 0 {
		c.Ledger.DefaultPageSize = domain.DefaultPageSize
	}
	if c.Ledger.MaxPageSize == 0 {
		c.Ledger.MaxPageSize = domain.MaxPageSize
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = redis.DefaultTTL
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = kafka.DefaultTopic
	}
	if c.Users.Target == "" {
		c.Users.Target = UsersStatic
	}
	if c.Users.Timeout == 0 {
		c.Users.Timeout = 2 * time.Second
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "wallet-ledger"
	}
}

// Validate 檢查必要欄位
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMySQL:
		if c.MySQL.Host == "" || c.MySQL.User == "" || c.MySQL.DBName == "" {
			errs = append(errs, errors.New("mysql: host, user and db_name are required"))
		}
	case DriverPostgres:
		if c.Postgres.Host == "" || c.Postgres.User == "" || c.Postgres.DBName == "" {
			errs = append(errs, errors.New("postgres: host, user and db_name are required"))
		}
	case DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver: unsupported driver %q", c.Store.Driver))
	}
	if c.Ledger.DefaultPageSize < 1 || c.Ledger.MaxPageSize < c.Ledger.DefaultPageSize {
		errs = append(errs, errors.New("ledger: need 1 <= default_page_size <= max_page_size"))
	}
	if c.Ledger.LockTimeout < 0 {
		errs = append(errs, errors.New("ledger.lock_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
