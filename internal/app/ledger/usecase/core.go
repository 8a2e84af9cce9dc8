package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
)

const tracerName = "github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/usecase"

// CoreUseCase 是核心業務邏輯層，也是建立交易的唯一入口
type CoreUseCase struct {
	ledger    Ledger
	cache     BalanceCache
	publisher EventPublisher
	log       *logger.Logger
	tracer    trace.Tracer
	now       func() time.Time

	lockTimeout     time.Duration
	defaultPageSize int
	maxPageSize     int
}

// Option 定義了 CoreUseCase 的配置選項函數
type Option func(*CoreUseCase)

// WithLogger 設定 Logger
func WithLogger(log *logger.Logger) Option {
	return func(c *CoreUseCase) {
		c.log = log.With("service", "CoreUseCase")
	}
}

// WithBalanceCache 設定餘額快取 (只影響 GetBalance)
func WithBalanceCache(cache BalanceCache) Option {
	return func(c *CoreUseCase) {
		c.cache = cache
	}
}

// WithEventPublisher 設定交易事件發布者
func WithEventPublisher(publisher EventPublisher) Option {
	return func(c *CoreUseCase) {
		c.publisher = publisher
	}
}

// WithClock 替換時間來源 (測試用)
func WithClock(now func() time.Time) Option {
	return func(c *CoreUseCase) {
		c.now = now
	}
}

// WithLockTimeout 建立交易時等待序列化區段 + 寫入的最長時間，0 表示只依賴呼叫端的 ctx
func WithLockTimeout(d time.Duration) Option {
	return func(c *CoreUseCase) {
		c.lockTimeout = d
	}
}

// WithPageSizes 設定預設與最大分頁大小
func WithPageSizes(defaultSize, maxSize int) Option {
	return func(c *CoreUseCase) {
		if defaultSize > 0 {
			c.defaultPageSize = defaultSize
		}
		if maxSize > 0 {
			c.maxPageSize = maxSize
		}
	}
}

func NewCoreUseCase(ledger Ledger, opts ...Option) *CoreUseCase {
	c := &CoreUseCase{
		ledger:          ledger,
		publisher:       NopPublisher{},
		log:             logger.NewNop(),
		tracer:          otel.Tracer(tracerName),
		now:             time.Now,
		defaultPageSize: domain.DefaultPageSize,
		maxPageSize:     domain.MaxPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultPageSize > c.maxPageSize {
		c.defaultPageSize = c.maxPageSize
	}
	return c
}

// CreateTransactionInput 建立交易的參數，金額等欄位應已由呼叫端驗證
type CreateTransactionInput struct {
	UserID         uuid.UUID
	Amount         domain.Amount
	Type           domain.TransactionType
	IdempotencyKey string
}

// CreateResult Replayed 為 true 表示冪等鍵已存在，回傳的是原本那筆交易
type CreateResult struct {
	Transaction *domain.Transaction
	Replayed    bool
}

// CreateTransaction 建立交易
//
// 參數:
//
//	ctx: 上下文
//	in: 交易參數
//
// 回傳:
//
//	*CreateResult: 新建立或 replay 的交易
//	error: ValidationError / InsufficientFundsError / ErrStorageUnavailable / ErrInternal
//
// 序列化(user) -> 冪等檢查 -> 餘額檢查(DEBIT) -> 寫入 -> 釋放 -> 快取失效 / 發布事件
func (c *CoreUseCase) CreateTransaction(ctx context.Context, in CreateTransactionInput) (*CreateResult, error) {
	ctx, span := c.tracer.Start(ctx, "CoreUseCase.CreateTransaction", trace.WithAttributes(
		attribute.String("ledger.user_id", in.UserID.String()),
		attribute.String("ledger.type", in.Type.String()),
	))
	defer span.End()

	// 0. 防禦性驗證，呼叫端理應已經擋掉
	probe := domain.Transaction{
		UserID:         in.UserID,
		Amount:         in.Amount,
		Type:           in.Type,
		IdempotencyKey: in.IdempotencyKey,
	}
	if err := probe.Validate(); err != nil {
		return nil, c.fail(span, err)
	}

	opCtx := ctx
	if c.lockTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, c.lockTimeout)
		defer cancel()
	}

	var result *CreateResult
	err := c.ledger.WithSerializedAccess(opCtx, in.UserID, func(tx LedgerTx) error {
		result = nil

		// 1. 冪等檢查，已存在就直接回傳原交易
		existing, err := tx.FindByIdempotencyKey(opCtx, in.UserID, in.IdempotencyKey)
		if err == nil {
			result = &CreateResult{Transaction: existing, Replayed: true}
			return nil
		}
		if !errors.Is(err, domain.ErrTransactionNotFound) {
			return err
		}

		// 2. 扣款需檢查餘額，與寫入在同一個序列化區段內
		if in.Type == domain.TransactionTypeDebit {
			balance, err := tx.SumBalance(opCtx, in.UserID)
			if err != nil {
				return err
			}
			if balance < in.Amount {
				return &domain.InsufficientFundsError{
					UserID:  in.UserID,
					Balance: balance,
					Amount:  in.Amount,
				}
			}
		}

		// 3. created_at 不得早於該使用者最新一筆交易
		createdAt := c.now()
		latest, err := tx.LatestCreatedAt(opCtx, in.UserID)
		if err != nil {
			return err
		}
		if latest.After(createdAt) {
			createdAt = latest
		}

		// 4. 寫入
		tran, err := domain.NewTransaction(in.UserID, in.Amount, in.Type, in.IdempotencyKey, createdAt)
		if err != nil {
			return err
		}
		inserted, err := tx.Insert(opCtx, tran)
		if err != nil {
			return err
		}
		result = &CreateResult{Transaction: inserted}
		return nil
	})

	// 序列化仍輸掉競爭時 (例如多個實例共用資料庫但鎖失效)，視同 replay
	if errors.Is(err, domain.ErrDuplicateKey) {
		existing, findErr := c.ledger.FindByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
		if findErr == nil {
			c.log.Warn("duplicate key surfaced despite serialization, resolved by replay",
				"user_id", in.UserID, "idempotency_key", in.IdempotencyKey)
			result = &CreateResult{Transaction: existing, Replayed: true}
			err = nil
		} else {
			err = findErr
		}
	}
	if err != nil {
		return nil, c.fail(span, c.classify("create_transaction", in.UserID, in.IdempotencyKey, err))
	}

	span.SetAttributes(
		attribute.String("ledger.transaction_id", result.Transaction.ID.String()),
		attribute.Bool("ledger.replayed", result.Replayed),
	)
	if result.Replayed {
		c.warnOnMismatchedReplay(in, result.Transaction)
		return result, nil
	}
	c.afterCommit(ctx, result.Transaction)
	return result, nil
}

// afterCommit 交易已提交，之後的步驟失敗只記錄，不影響結果
func (c *CoreUseCase) afterCommit(ctx context.Context, tran *domain.Transaction) {
	ctx = context.WithoutCancel(ctx)
	if c.cache != nil {
		if err := c.cache.Invalidate(ctx, tran.UserID); err != nil {
			c.log.Warn("failed to invalidate balance cache", "user_id", tran.UserID, "error", err)
		}
	}
	if err := c.publisher.PublishTransactionCreated(ctx, domain.NewTransactionCreated(tran)); err != nil {
		c.log.Error("failed to publish transaction event",
			"user_id", tran.UserID, "transaction_id", tran.ID, "error", err)
	}
}

func (c *CoreUseCase) warnOnMismatchedReplay(in CreateTransactionInput, existing *domain.Transaction) {
	if existing.Amount != in.Amount || existing.Type != in.Type {
		c.log.Warn("idempotency key reused with a different payload, returning original transaction",
			"user_id", in.UserID,
			"idempotency_key", in.IdempotencyKey,
			"transaction_id", existing.ID)
	}
}

// GetBalance 取得帳戶餘額 (唯讀，不需序列化)
func (c *CoreUseCase) GetBalance(ctx context.Context, userID uuid.UUID) (domain.Balance, error) {
	ctx, span := c.tracer.Start(ctx, "CoreUseCase.GetBalance", trace.WithAttributes(
		attribute.String("ledger.user_id", userID.String()),
	))
	defer span.End()

	if userID == uuid.Nil {
		return domain.Balance{}, c.fail(span, domain.NewValidationError("user_id", "is required"))
	}

	// 版本號要在計算餘額之前取得
	var generation int64
	cacheable := false
	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, userID)
		if err != nil {
			c.log.Warn("balance cache read failed", "user_id", userID, "error", err)
		} else if ok {
			span.SetAttributes(attribute.Bool("ledger.cache_hit", true))
			return domain.Balance{UserID: userID, Amount: cached}, nil
		}
		if generation, err = c.cache.Generation(ctx, userID); err != nil {
			c.log.Warn("balance cache generation read failed", "user_id", userID, "error", err)
		} else {
			cacheable = true
		}
	}

	amount, err := c.ledger.SumBalance(ctx, userID)
	if err != nil {
		return domain.Balance{}, c.fail(span, c.classify("get_balance", userID, "", err))
	}
	if amount < 0 {
		c.log.Error("derived balance is negative", "user_id", userID, "balance", amount.String())
	}

	if cacheable {
		if err := c.cache.Set(ctx, userID, generation, amount); err != nil {
			c.log.Warn("balance cache write failed", "user_id", userID, "error", err)
		}
	}
	return domain.Balance{UserID: userID, Amount: amount}, nil
}

// ListTransactionsInput Page / Limit 為 0 時使用預設值
type ListTransactionsInput struct {
	UserID uuid.UUID
	Type   domain.TransactionType
	Page   int
	Limit  int
}

// ListTransactions 分頁查詢交易紀錄
func (c *CoreUseCase) ListTransactions(ctx context.Context, in ListTransactionsInput) (*domain.TransactionPage, error) {
	ctx, span := c.tracer.Start(ctx, "CoreUseCase.ListTransactions", trace.WithAttributes(
		attribute.String("ledger.user_id", in.UserID.String()),
	))
	defer span.End()

	filter, err := c.normalizeFilter(in)
	if err != nil {
		return nil, c.fail(span, err)
	}

	items, total, err := c.ledger.ListPage(ctx, filter)
	if err != nil {
		return nil, c.fail(span, c.classify("list_transactions", in.UserID, "", err))
	}
	if items == nil {
		items = []*domain.Transaction{}
	}
	return &domain.TransactionPage{
		Data: items,
		Meta: domain.NewPageMeta(total, filter.Page, filter.Limit),
	}, nil
}

func (c *CoreUseCase) normalizeFilter(in ListTransactionsInput) (domain.ListFilter, error) {
	if in.UserID == uuid.Nil {
		return domain.ListFilter{}, domain.NewValidationError("user_id", "is required")
	}
	if in.Type != "" && !in.Type.IsValid() {
		return domain.ListFilter{}, domain.NewValidationError("type", "must be CREDIT or DEBIT")
	}
	page, limit := in.Page, in.Limit
	switch {
	case page == 0:
		page = domain.DefaultPage
	case page < 0:
		return domain.ListFilter{}, domain.NewValidationError("page", "must be a positive integer")
	}
	switch {
	case limit == 0:
		limit = c.defaultPageSize
	case limit < 0:
		return domain.ListFilter{}, domain.NewValidationError("limit", "must be a positive integer")
	case limit > c.maxPageSize:
		limit = c.maxPageSize
	}
	return domain.ListFilter{
		UserID: in.UserID,
		Type:   in.Type,
		Page:   page,
		Limit:  limit,
	}, nil
}

// classify 業務錯誤原樣回傳；儲存錯誤記錄細節後只回傳通用錯誤
func (c *CoreUseCase) classify(op string, userID uuid.UUID, key string, err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInsufficientFunds):
		return err
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, domain.ErrStorageUnavailable), errors.Is(err, context.DeadlineExceeded):
		c.log.Warn("ledger storage unavailable",
			"op", op, "user_id", userID, "idempotency_key", key, "error", err)
		return fmt.Errorf("%s: %w", op, domain.ErrStorageUnavailable)
	default:
		c.log.Error("ledger operation failed",
			"op", op, "user_id", userID, "idempotency_key", key, "error", err)
		return fmt.Errorf("%s: %w", op, domain.ErrInternal)
	}
}

func (c *CoreUseCase) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, string(domain.CodeOf(err)))
	return err
}
