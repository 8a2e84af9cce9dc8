package usecase

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
)

// ParseUserID 解析 UUID 格式的 user_id
func ParseUserID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, domain.NewValidationError("user_id", "is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, domain.NewValidationError("user_id", "must be a valid UUID")
	}
	return id, nil
}

// ParseCreateTransactionInput 驗證 driving adapter 收到的原始欄位
//
// 參數:
//
//	userID: UUID 字串
//	amount: 十進位字串，最多 2 位小數，0.01 ~ 999,999,999.99
//	tranType: CREDIT / DEBIT (不分大小寫)
//	idempotencyKey: 1 ~ 255 字元
//
// 回傳:
//
//	CreateTransactionInput: 可交給 CreateTransaction 的參數
//	error: *domain.ValidationError
func ParseCreateTransactionInput(userID, amount, tranType, idempotencyKey string) (CreateTransactionInput, error) {
	id, err := ParseUserID(userID)
	if err != nil {
		return CreateTransactionInput{}, err
	}
	if strings.TrimSpace(amount) == "" {
		return CreateTransactionInput{}, domain.NewValidationError("amount", "is required")
	}
	a, err := domain.ParseAmount(amount)
	if err != nil {
		return CreateTransactionInput{}, err
	}
	if err := a.Validate(); err != nil {
		return CreateTransactionInput{}, err
	}
	t, err := domain.ParseTransactionType(tranType)
	if err != nil {
		return CreateTransactionInput{}, err
	}
	if err := domain.ValidateIdempotencyKey(idempotencyKey); err != nil {
		return CreateTransactionInput{}, err
	}
	return CreateTransactionInput{
		UserID:         id,
		Amount:         a,
		Type:           t,
		IdempotencyKey: idempotencyKey,
	}, nil
}

// ParseListTransactionsInput page / limit 空字串代表使用預設值
func ParseListTransactionsInput(userID, tranType, page, limit string) (ListTransactionsInput, error) {
	id, err := ParseUserID(userID)
	if err != nil {
		return ListTransactionsInput{}, err
	}
	in := ListTransactionsInput{UserID: id}
	if strings.TrimSpace(tranType) != "" {
		if in.Type, err = domain.ParseTransactionType(tranType); err != nil {
			return ListTransactionsInput{}, err
		}
	}
	if in.Page, err = parsePositiveInt("page", page); err != nil {
		return ListTransactionsInput{}, err
	}
	if in.Limit, err = parsePositiveInt("limit", limit); err != nil {
		return ListTransactionsInput{}, err
	}
	return in, nil
}

func parsePositiveInt(field, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, domain.NewValidationError(field, "must be a positive integer")
	}
	return v, nil
}
