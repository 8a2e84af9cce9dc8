package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
)

// UserDirectory 使用者服務提供的查詢，由 adapter 在呼叫 ledger 之前確認帳戶存在
type UserDirectory interface {
	UserExists(ctx context.Context, userID uuid.UUID) (bool, error)
}

// BalanceCache 餘額快取，僅供 GetBalance 參考，絕不用於扣款判斷
//
// 每個使用者有一個版本號，Invalidate 會遞增它。
// 讀取端在計算餘額前先取得版本號，Set 只在版本號未變時寫入，
// 計算期間有交易提交時，舊的餘額不會蓋掉失效的結果。
type BalanceCache interface {
	Get(ctx context.Context, userID uuid.UUID) (domain.Amount, bool, error)
	Generation(ctx context.Context, userID uuid.UUID) (int64, error)
	Set(ctx context.Context, userID uuid.UUID, generation int64, balance domain.Amount) error
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// EventPublisher 交易事件發布
type EventPublisher interface {
	PublishTransactionCreated(ctx context.Context, event domain.TransactionCreated) error
}

// NopPublisher 不發布任何事件
type NopPublisher struct{}

func (NopPublisher) PublishTransactionCreated(context.Context, domain.TransactionCreated) error {
	return nil
}

var _ EventPublisher = NopPublisher{}
