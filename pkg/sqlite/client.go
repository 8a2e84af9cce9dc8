package sqlite

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
)

// MemoryPath 行程內的暫存資料庫，連線關閉後資料消失
const MemoryPath = ":memory:"

// Config SQLite 配置，給本機開發與測試使用
type Config struct {
	Path     string `yaml:"path"`
	LogLevel string `yaml:"log_level"`
}

// Client 封裝 GORM DB 實例
type Client struct {
	db *gorm.DB
}

// NewClient 開啟 SQLite 資料庫
//
// SQLite 同時只允許一個寫入者，因此連線池固定為 1 條連線，
// :memory: 資料庫也因此在整個生命週期內保持同一份資料。
func NewClient(cfg Config) (*Client, error) {
	path := cfg.Path
	if path == "" {
		path = MemoryPath
	}
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_foreign_keys=on"), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.NewGormLogger(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	return &Client{db: db}, nil
}

func (c *Client) DB() *gorm.DB {
	return c.db
}

func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
