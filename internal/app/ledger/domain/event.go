package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionCreated 交易寫入成功後發出的事件 (replay 不會發出)
type TransactionCreated struct {
	TransactionID  uuid.UUID       `json:"transaction_id"`
	UserID         uuid.UUID       `json:"user_id"`
	Type           TransactionType `json:"type"`
	Amount         Amount          `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// NewTransactionCreated 由交易建立事件
func NewTransactionCreated(tran *Transaction) TransactionCreated {
	return TransactionCreated{
		TransactionID:  tran.ID,
		UserID:         tran.UserID,
		Type:           tran.Type,
		Amount:         tran.Amount,
		IdempotencyKey: tran.IdempotencyKey,
		OccurredAt:     tran.CreatedAt,
	}
}
