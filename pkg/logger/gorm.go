package logger

import (
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// NewGormLogger 根據配置建立 GORM Logger
//
// 參數:
//
//	level: "silent" / "error" / "warn" / "info"，其餘視為 "error"
func NewGormLogger(level string) gormlogger.Interface {
	var logLevel gormlogger.LogLevel
	switch level {
	case "info":
		logLevel = gormlogger.Info
	case "warn":
		logLevel = gormlogger.Warn
	case "silent":
		logLevel = gormlogger.Silent
	default:
		logLevel = gormlogger.Error // 預設只記錄錯誤
	}
	return gormlogger.New(
		gormWriter{},
		gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// gormWriter 把 GORM 的輸出導向 zap 的全域 logger (由 New 設定)
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	zap.S().Infof(format, args...)
}
