package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransactionType 交易類型
type TransactionType string

const (
	// 入帳，增加餘額
	TransactionTypeCredit TransactionType = "CREDIT"
	// 扣款，減少餘額
	TransactionTypeDebit TransactionType = "DEBIT"
)

// MaxIdempotencyKeyLength 冪等鍵長度上限 (對應資料庫欄位 varchar(255))
const MaxIdempotencyKeyLength = 255

// ParseTransactionType 解析交易類型字串 (不分大小寫)
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", NewValidationError("type", "must be CREDIT or DEBIT")
	}
	return t, nil
}

func (t TransactionType) IsValid() bool {
	return t == TransactionTypeCredit || t == TransactionTypeDebit
}

func (t TransactionType) String() string {
	return string(t)
}

// Transaction 交易紀錄，建立後不可修改 (append-only)
type Transaction struct {
	// ID: 建立時分配 (UUIDv7，依時間排序)
	ID uuid.UUID `json:"id"`
	// UserID: 帳戶擁有者
	UserID uuid.UUID `json:"user_id"`
	// Amount: 金額，永遠為正數，方向由 Type 決定
	Amount Amount `json:"amount"`
	// Type: CREDIT / DEBIT
	Type TransactionType `json:"type"`
	// IdempotencyKey: 由 client 提供，(UserID, IdempotencyKey) 全域唯一
	IdempotencyKey string `json:"idempotency_key"`
	// CreatedAt: 同一使用者內單調不遞減
	CreatedAt time.Time `json:"created_at"`
}

// NewTransaction 建立一筆新的交易 (尚未寫入)
//
// 參數:
//
//	userID: 帳戶 ID
//	amount: 金額
//	tranType: 交易類型
//	idempotencyKey: 冪等鍵
//	createdAt: 建立時間
//
// 回傳:
//
//	*Transaction: 交易物件
//	error: 驗證錯誤或 ID 產生失敗
func NewTransaction(userID uuid.UUID, amount Amount, tranType TransactionType, idempotencyKey string, createdAt time.Time) (*Transaction, error) {
	tran := &Transaction{
		UserID:         userID,
		Amount:         amount,
		Type:           tranType,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      createdAt.UTC().Truncate(time.Microsecond),
	}
	if err := tran.Validate(); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	tran.ID = id
	return tran, nil
}

// Validate 檢查交易欄位
func (t *Transaction) Validate() error {
	if t.UserID == uuid.Nil {
		return NewValidationError("user_id", "is required")
	}
	if !t.Type.IsValid() {
		return NewValidationError("type", "must be CREDIT or DEBIT")
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	return ValidateIdempotencyKey(t.IdempotencyKey)
}

// SignedAmount CREDIT 為正，DEBIT 為負
func (t *Transaction) SignedAmount() Amount {
	if t.Type == TransactionTypeDebit {
		return -t.Amount
	}
	return t.Amount
}

// ValidateIdempotencyKey 冪等鍵不可為空且不可超過長度上限
func ValidateIdempotencyKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return NewValidationError("idempotency_key", "is required")
	}
	if len(key) > MaxIdempotencyKeyLength {
		return NewValidationError("idempotency_key", "is too long")
	}
	return nil
}

// Balance 由交易紀錄推導出的餘額，不會被儲存
type Balance struct {
	UserID uuid.UUID `json:"user_id"`
	Amount Amount    `json:"balance"`
}

// DeriveBalance sum(CREDIT) - sum(DEBIT)，不做任何截斷，方便觀察錯誤
func DeriveBalance(trans []*Transaction) Amount {
	var balance Amount
	for _, tran := range trans {
		balance += tran.SignedAmount()
	}
	return balance
}
