package gormstore

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-wallet-ledger/pkg/keymutex"
)

const lockNamespace = "ledger:user"

// userLocker 依資料庫方言取得以使用者為單位的鎖
//
//	before: 開啟交易之前 (行程內的鎖)
//	inTx: 交易內 (資料庫鎖，隨 commit / rollback 釋放)
type userLocker interface {
	before(ctx context.Context, userID uuid.UUID) (func(), error)
	inTx(tx *gorm.DB, userID uuid.UUID) error
}

func newUserLocker(dialect string) (userLocker, error) {
	switch dialect {
	case "postgres":
		return advisoryLocker{}, nil
	case "mysql":
		return rowLocker{}, nil
	case "sqlite":
		return &localLocker{locks: keymutex.New[uuid.UUID]()}, nil
	default:
		return nil, fmt.Errorf("gormstore: unsupported dialect %q", dialect)
	}
}

func noop() {}

// advisoryLocker PostgreSQL transaction-level advisory lock
type advisoryLocker struct{}

func (advisoryLocker) before(context.Context, uuid.UUID) (func(), error) { return noop, nil }

func (advisoryLocker) inTx(tx *gorm.DB, userID uuid.UUID) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", advisoryKey64(lockNamespace, userID)).Error
}

func advisoryKey64(namespace string, id uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(id.String()))
	return int64(h.Sum64())
}

// rowLocker MySQL 悲觀鎖: 以 INSERT ... ON DUPLICATE KEY UPDATE 對錨點列直接取得 X lock
// (INSERT IGNORE 遇到重複鍵只拿 S lock，兩個交易再升級成 X 會互相 deadlock)
type rowLocker struct{}

func (rowLocker) before(context.Context, uuid.UUID) (func(), error) { return noop, nil }

func (rowLocker) inTx(tx *gorm.DB, userID uuid.UUID) error {
	return lockUserRow(tx, userID).Error
}

func lockUserRow(tx *gorm.DB, userID uuid.UUID) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		DoUpdates: clause.Assignments(map[string]any{"user_id": gorm.Expr("user_id")}),
	}).Create(&sqlUserLock{UserID: userID.String()})
}

// localLocker SQLite 沒有列鎖，以行程內的 keyed mutex 序列化
type localLocker struct {
	locks *keymutex.KeyMutex[uuid.UUID]
}

func (l *localLocker) before(ctx context.Context, userID uuid.UUID) (func(), error) {
	return l.locks.Lock(ctx, userID)
}

func (*localLocker) inTx(*gorm.DB, uuid.UUID) error { return nil }
