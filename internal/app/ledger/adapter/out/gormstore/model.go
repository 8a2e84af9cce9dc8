package gormstore

import (
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
)

// sqlTransaction 對應資料庫的 transactions 表
// user_id + idempotency_key 唯一，(user_id, created_at) 供餘額加總與分頁使用
type sqlTransaction struct {
	ID             string    `gorm:"primaryKey;size:36"`
	UserID         string    `gorm:"size:36;not null;uniqueIndex:uq_transactions_user_key,priority:1;index:idx_transactions_user_created,priority:1"`
	Amount         int64     `gorm:"not null"` // 最小單位 (分)
	Type           string    `gorm:"size:6;not null"`
	IdempotencyKey string    `gorm:"size:255;not null;uniqueIndex:uq_transactions_user_key,priority:2"`
	CreatedAt      time.Time `gorm:"not null;precision:6;index:idx_transactions_user_created,priority:2"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

// sqlUserLock 對應 ledger_user_locks 表，只在 MySQL 上作為悲觀鎖的錨點
type sqlUserLock struct {
	UserID string `gorm:"primaryKey;size:36"`
}

func (*sqlUserLock) TableName() string {
	return "ledger_user_locks"
}

func toRow(tran *domain.Transaction) *sqlTransaction {
	return &sqlTransaction{
		ID:             tran.ID.String(),
		UserID:         tran.UserID.String(),
		Amount:         int64(tran.Amount),
		Type:           tran.Type.String(),
		IdempotencyKey: tran.IdempotencyKey,
		CreatedAt:      tran.CreatedAt.UTC(),
	}
}

func (row *sqlTransaction) toDomain() (*domain.Transaction, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(row.UserID)
	if err != nil {
		return nil, err
	}
	return &domain.Transaction{
		ID:             id,
		UserID:         userID,
		Amount:         domain.Amount(row.Amount),
		Type:           domain.TransactionType(row.Type),
		IdempotencyKey: row.IdempotencyKey,
		CreatedAt:      row.CreatedAt.UTC(),
	}, nil
}
