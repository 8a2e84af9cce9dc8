package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrValidation 輸入格式錯誤
	ErrValidation = errors.New("validation error")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateKey (user_id, idempotency_key) 已存在
	ErrDuplicateKey = errors.New("duplicate idempotency key")

	// ErrTransactionNotFound 找不到交易
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrStorageUnavailable 儲存層暫時無法使用，可重試
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrUserNotFound 找不到使用者
	ErrUserNotFound = errors.New("user not found")

	// ErrInternal 非預期錯誤，不對外揭露細節
	ErrInternal = errors.New("internal error")
)

// ValidationError 欄位驗證錯誤
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InsufficientFundsError 扣款金額大於目前餘額
type InsufficientFundsError struct {
	UserID  uuid.UUID
	Balance Amount
	Amount  Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %s, requested %s", e.Balance, e.Amount)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// StorageError 包裝儲存層錯誤，Transient 表示可重試 (連線中斷、死鎖、逾時)
type StorageError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable && e.Transient
}

// ErrorCode 對外的錯誤代碼，呼叫端依此對應訊息，不需比對字串
type ErrorCode string

const (
	CodeOK                 ErrorCode = ""
	CodeValidation         ErrorCode = "VALIDATION_ERROR"
	CodeInsufficientFunds  ErrorCode = "INSUFFICIENT_FUNDS"
	CodeUserNotFound       ErrorCode = "USER_NOT_FOUND"
	CodeNotFound           ErrorCode = "RESOURCE_NOT_FOUND"
	CodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	CodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// CodeOf 將錯誤分類為 ErrorCode
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ErrUserNotFound):
		return CodeUserNotFound
	case errors.Is(err, ErrTransactionNotFound):
		return CodeNotFound
	case errors.Is(err, ErrStorageUnavailable):
		return CodeStorageUnavailable
	default:
		return CodeInternal
	}
}

// Retryable 只有暫時性的儲存錯誤可以重試；餘額不足重試也會失敗
func (c ErrorCode) Retryable() bool {
	return c == CodeStorageUnavailable
}
