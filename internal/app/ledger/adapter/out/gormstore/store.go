package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
)

// GormLedger 以 GORM 實作的帳本，支援 MySQL / PostgreSQL / SQLite
type GormLedger struct {
	db      *gorm.DB
	dialect string
	locker  userLocker
	log     *logger.Logger
}

// Option 定義了 GormLedger 的配置選項函數
type Option func(*GormLedger)

// WithLogger 設定 Logger
func WithLogger(log *logger.Logger) Option {
	return func(l *GormLedger) {
		l.log = log.With("service", "GormLedger")
	}
}

// NewGormLedger 建立 GormLedger，鎖的實作依 db 的方言決定
//
// 參數:
//
//	db: 已連線的 *gorm.DB (pkg/mysql、pkg/postgres、pkg/sqlite 提供)
//	opts: 選項
//
// 回傳:
//
//	*GormLedger: 帳本實例
//	error: 不支援的方言
func NewGormLedger(db *gorm.DB, opts ...Option) (*GormLedger, error) {
	dialect := db.Dialector.Name()
	locker, err := newUserLocker(dialect)
	if err != nil {
		return nil, err
	}
	l := &GormLedger{
		db:      db,
		dialect: dialect,
		locker:  locker,
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// AutoMigrate 建立 transactions 表 (MySQL 另外建立 ledger_user_locks)
func (l *GormLedger) AutoMigrate(ctx context.Context) error {
	models := []any{&sqlTransaction{}}
	if l.dialect == "mysql" {
		models = append(models, &sqlUserLock{})
	}
	if err := l.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return translateError("auto_migrate", err)
	}
	l.log.Info("ledger schema migrated", "dialect", l.dialect)
	return nil
}

// Ping 檢查資料庫連線
func (l *GormLedger) Ping(ctx context.Context) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return translateError("ping", err)
	}
	return translateError("ping", sqlDB.PingContext(ctx))
}

func (l *GormLedger) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Transaction, error) {
	return findByIdempotencyKey(l.db.WithContext(ctx), userID, key)
}

func (l *GormLedger) SumBalance(ctx context.Context, userID uuid.UUID) (domain.Amount, error) {
	return sumBalance(l.db.WithContext(ctx), userID)
}

func (l *GormLedger) ListPage(ctx context.Context, filter domain.ListFilter) ([]*domain.Transaction, int64, error) {
	return listPage(l.db.WithContext(ctx), filter)
}

// WithSerializedAccess 開啟資料庫交易並取得使用者鎖後執行 fn
// fn 回傳錯誤時 rollback，成功時 commit，鎖隨交易結束釋放
func (l *GormLedger) WithSerializedAccess(ctx context.Context, userID uuid.UUID, fn func(tx usecase.LedgerTx) error) error {
	release, err := l.locker.before(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.locker.inTx(tx, userID); err != nil {
			return translateError("lock_user", err)
		}
		return fn(&gormTx{db: tx, userID: userID})
	})
	return translateError("serialized_access", err)
}

// gormTx 序列化區段內的工作單元
type gormTx struct {
	db     *gorm.DB
	userID uuid.UUID
}

func (tx *gormTx) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Transaction, error) {
	return findByIdempotencyKey(tx.db.WithContext(ctx), userID, key)
}

func (tx *gormTx) SumBalance(ctx context.Context, userID uuid.UUID) (domain.Amount, error) {
	return sumBalance(tx.db.WithContext(ctx), userID)
}

func (tx *gormTx) ListPage(ctx context.Context, filter domain.ListFilter) ([]*domain.Transaction, int64, error) {
	return listPage(tx.db.WithContext(ctx), filter)
}

func (tx *gormTx) LatestCreatedAt(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	var row sqlTransaction
	err := tx.db.WithContext(ctx).
		Select("created_at").
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, translateError("latest_created_at", err)
	}
	return row.CreatedAt.UTC(), nil
}

// Insert 只能寫入目前持有鎖的使用者
func (tx *gormTx) Insert(ctx context.Context, tran *domain.Transaction) (*domain.Transaction, error) {
	if tran.UserID != tx.userID {
		return nil, errors.New("gormstore: insert for a user outside the serialized section")
	}
	row := toRow(tran)
	if err := tx.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, translateError("insert_transaction", err)
	}
	return row.toDomain()
}

func findByIdempotencyKey(db *gorm.DB, userID uuid.UUID, key string) (*domain.Transaction, error) {
	var row sqlTransaction
	err := db.Where("user_id = ? AND idempotency_key = ?", userID.String(), key).Take(&row).Error
	if err != nil {
		return nil, translateError("find_by_idempotency_key", err)
	}
	return row.toDomain()
}

func sumBalance(db *gorm.DB, userID uuid.UUID) (domain.Amount, error) {
	var balance int64
	err := db.Model(&sqlTransaction{}).
		Select("COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE -amount END), 0)", domain.TransactionTypeCredit.String()).
		Where("user_id = ?", userID.String()).
		Row().
		Scan(&balance)
	if err != nil {
		return 0, translateError("sum_balance", err)
	}
	return domain.Amount(balance), nil
}

func listPage(db *gorm.DB, filter domain.ListFilter) ([]*domain.Transaction, int64, error) {
	query := db.Model(&sqlTransaction{}).Where("user_id = ?", filter.UserID.String())
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type.String())
	}
	// Count 與 Find 共用相同條件
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translateError("count_transactions", err)
	}
	if total == 0 || filter.Limit <= 0 || int64(filter.Offset()) >= total {
		return []*domain.Transaction{}, total, nil
	}

	var rows []sqlTransaction
	err := query.Order("created_at DESC").Order("id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset()).
		Find(&rows).Error
	if err != nil {
		return nil, 0, translateError("list_transactions", err)
	}

	trans := make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		tran, err := rows[i].toDomain()
		if err != nil {
			return nil, 0, translateError("decode_transaction", err)
		}
		trans = append(trans, tran)
	}
	return trans, total, nil
}

var _ usecase.Ledger = (*GormLedger)(nil)
