package gormstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
)

// MySQL error numbers
const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// translateError 把 driver / gorm 錯誤轉為 domain 錯誤
//
// 參數:
//
//	op: 操作名稱 (記錄用)
//	err: 原始錯誤
//
// 回傳:
//
//	error: domain.ErrTransactionNotFound / domain.ErrDuplicateKey / *domain.StorageError，
//	已經是 domain 錯誤或 ctx 錯誤時原樣回傳
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrTransactionNotFound
	}
	if isUniqueViolation(err) {
		return domain.ErrDuplicateKey
	}
	return &domain.StorageError{Op: op, Err: err, Transient: isTransient(err)}
}

func isDomainError(err error) bool {
	var storageErr *domain.StorageError
	return errors.As(err, &storageErr) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInsufficientFunds) ||
		errors.Is(err, domain.ErrDuplicateKey) ||
		errors.Is(err, domain.ErrTransactionNotFound)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isTransient 連線中斷、死鎖、鎖等待逾時等重試可能成功的錯誤
func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqldriver.ErrInvalidConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", // serialization_failure
			pgErr.Code == "40P01", // deadlock_detected
			pgErr.Code == "55P03", // lock_not_available
			pgErr.Code == "57P01", // admin_shutdown
			strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return true
		}
		return false
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDeadlock || myErr.Number == mysqlLockWaitTimeout
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
