package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
)

// LedgerReader 交易紀錄的唯讀查詢
type LedgerReader interface {
	// FindByIdempotencyKey 以 (userID, key) 精確查詢，找不到時回傳 domain.ErrTransactionNotFound
	FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Transaction, error)
	// SumBalance sum(CREDIT) - sum(DEBIT)，沒有交易時為 0，不做截斷
	SumBalance(ctx context.Context, userID uuid.UUID) (domain.Amount, error)
	// ListPage 依 created_at DESC, id DESC 排序分頁，total 為符合條件的總筆數
	ListPage(ctx context.Context, filter domain.ListFilter) ([]*domain.Transaction, int64, error)
}

// LedgerTx 序列化區段內的工作單元，只有這裡可以寫入
type LedgerTx interface {
	LedgerReader
	// LatestCreatedAt 該使用者最新一筆交易的 created_at，沒有交易時為零值
	LatestCreatedAt(ctx context.Context, userID uuid.UUID) (time.Time, error)
	// Insert 寫入新交易，(user_id, idempotency_key) 重複時回傳 domain.ErrDuplicateKey
	Insert(ctx context.Context, tran *domain.Transaction) (*domain.Transaction, error)
}

// Ledger 是帳務系統的儲存介面 (append-only，沒有 Update / Delete)
type Ledger interface {
	LedgerReader
	// WithSerializedAccess 以 userID 為單位序列化執行 fn:
	// 同一個使用者同時只有一個 fn 在執行，不同使用者互不阻塞。
	// fn 內的寫入是一個原子單位，fn 回傳錯誤時全部不生效。
	WithSerializedAccess(ctx context.Context, userID uuid.UUID, fn func(tx LedgerTx) error) error
}
