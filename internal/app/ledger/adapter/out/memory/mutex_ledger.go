package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/keymutex"
	"github.com/JoeShih716/go-wallet-ledger/pkg/wal"
)

// idempotencyIndex (user_id, idempotency_key)
type idempotencyIndex struct {
	userID uuid.UUID
	key    string
}

// walRecord 一次提交寫成一筆 WAL 紀錄，確保整批全有或全無
type walRecord struct {
	Transactions []*domain.Transaction `json:"transactions"`
}

// MutexLedger 是一個使用 keyed mutex 實現的記憶體帳本
//
// 結構:
//
//	transactions: 每個使用者的交易 (依寫入順序)
//	byKey: 冪等鍵索引
//	balances: 每個使用者 sum(CREDIT) - sum(DEBIT)，只由 apply 累加
//	latest: 每個使用者最新一筆的 created_at
//	mu: 保護上述 Map，只在讀寫 Map 的瞬間持有
//	locks: 以 userID 為單位的序列化鎖，持有期間涵蓋整個 check-then-insert
//	wal: Write-Ahead Log 實例，nil 時不持久化
type MutexLedger struct {
	mu           sync.RWMutex
	transactions map[uuid.UUID][]*domain.Transaction
	byKey        map[idempotencyIndex]*domain.Transaction
	balances     map[uuid.UUID]domain.Amount
	latest       map[uuid.UUID]time.Time
	locks        *keymutex.KeyMutex[uuid.UUID]
	wal          *wal.WAL
}

// NewMutexLedger 建立一個新的 MutexLedger 實例
//
// 參數:
//
//	w: Write-Ahead Log 實例，可為 nil
//
// 回傳:
//
//	*MutexLedger: MutexLedger 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewMutexLedger(w *wal.WAL) (*MutexLedger, error) {
	ledger := &MutexLedger{
		transactions: make(map[uuid.UUID][]*domain.Transaction),
		byKey:        make(map[idempotencyIndex]*domain.Transaction),
		balances:     make(map[uuid.UUID]domain.Amount),
		latest:       make(map[uuid.UUID]time.Time),
		locks:        keymutex.New[uuid.UUID](),
		wal:          w,
	}
	if w == nil {
		return ledger, nil
	}
	if err := ledger.recoverFromWAL(); err != nil {
		return nil, err
	}
	return ledger, nil
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只有 NewMutexLedger 呼叫，無需 Lock (單執行緒)
func (m *MutexLedger) recoverFromWAL() error {
	return m.wal.ReadAll(func(jsonRaw []byte) error {
		var record walRecord
		if err := json.Unmarshal(jsonRaw, &record); err != nil {
			return err
		}
		for _, tran := range record.Transactions {
			index := idempotencyIndex{userID: tran.UserID, key: tran.IdempotencyKey}
			if _, ok := m.byKey[index]; ok {
				return fmt.Errorf("wal replay: duplicate idempotency key %q for user %s", tran.IdempotencyKey, tran.UserID)
			}
			m.apply(tran)
		}
		return nil
	})
}

// apply 將交易放入記憶體，呼叫端需持有寫鎖 (或處於單執行緒的恢復階段)
func (m *MutexLedger) apply(tran *domain.Transaction) {
	m.transactions[tran.UserID] = append(m.transactions[tran.UserID], tran)
	m.byKey[idempotencyIndex{userID: tran.UserID, key: tran.IdempotencyKey}] = tran
	m.balances[tran.UserID] += tran.SignedAmount()
	if tran.CreatedAt.After(m.latest[tran.UserID]) {
		m.latest[tran.UserID] = tran.CreatedAt
	}
}

// snapshot 複製使用者目前已提交的交易
func (m *MutexLedger) snapshot(userID uuid.UUID) []*domain.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.transactions[userID])
}

// Ping 記憶體帳本永遠可用
func (m *MutexLedger) Ping(ctx context.Context) error {
	return nil
}

func (m *MutexLedger) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tran, ok := m.byKey[idempotencyIndex{userID: userID, key: key}]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	clone := *tran
	return &clone, nil
}

func (m *MutexLedger) SumBalance(ctx context.Context, userID uuid.UUID) (domain.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[userID], nil
}

func (m *MutexLedger) ListPage(ctx context.Context, filter domain.ListFilter) ([]*domain.Transaction, int64, error) {
	items, total := listPage(m.snapshot(filter.UserID), filter)
	return items, total, nil
}

// WithSerializedAccess 持有使用者的鎖執行 fn，fn 成功後才把寫入提交 (先 WAL 再記憶體)
//
// 參數:
//
//	ctx: 上下文，等待鎖時可取消
//	userID: 帳戶 ID
//	fn: 序列化區段
//
// 回傳:
//
//	error: fn 的錯誤、等待鎖逾時或 WAL 寫入失敗
func (m *MutexLedger) WithSerializedAccess(ctx context.Context, userID uuid.UUID, fn func(tx usecase.LedgerTx) error) error {
	unlock, err := m.locks.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	tx := &mutexTx{ledger: m, userID: userID}
	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(tx.pending)
}

// commit 寫入 WAL (Critical Path) 後套用至記憶體
func (m *MutexLedger) commit(pending []*domain.Transaction) error {
	if len(pending) == 0 {
		return nil
	}
	if m.wal != nil {
		if err := m.wal.Write(walRecord{Transactions: pending}); err != nil {
			return &domain.StorageError{Op: "wal_write", Err: err, Transient: true}
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tran := range pending {
		m.apply(tran)
	}
	return nil
}

// mutexTx 序列化區段內的工作單元，寫入先暫存於 pending
type mutexTx struct {
	ledger  *MutexLedger
	userID  uuid.UUID
	pending []*domain.Transaction
}

func (tx *mutexTx) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Transaction, error) {
	for _, tran := range tx.pending {
		if tran.UserID == userID && tran.IdempotencyKey == key {
			clone := *tran
			return &clone, nil
		}
	}
	return tx.ledger.FindByIdempotencyKey(ctx, userID, key)
}

func (tx *mutexTx) SumBalance(ctx context.Context, userID uuid.UUID) (domain.Amount, error) {
	balance, err := tx.ledger.SumBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, tran := range tx.pending {
		if tran.UserID == userID {
			balance += tran.SignedAmount()
		}
	}
	return balance, nil
}

func (tx *mutexTx) LatestCreatedAt(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	tx.ledger.mu.RLock()
	latest := tx.ledger.latest[userID]
	tx.ledger.mu.RUnlock()
	for _, tran := range tx.pending {
		if tran.UserID == userID && tran.CreatedAt.After(latest) {
			latest = tran.CreatedAt
		}
	}
	return latest, nil
}

func (tx *mutexTx) ListPage(ctx context.Context, filter domain.ListFilter) ([]*domain.Transaction, int64, error) {
	items, total := listPage(tx.view(filter.UserID), filter)
	return items, total, nil
}

// Insert 只能寫入目前持有鎖的使用者
func (tx *mutexTx) Insert(ctx context.Context, tran *domain.Transaction) (*domain.Transaction, error) {
	if tran.UserID != tx.userID {
		return nil, fmt.Errorf("insert for user %s outside its serialized section (%s)", tran.UserID, tx.userID)
	}
	if _, err := tx.FindByIdempotencyKey(ctx, tran.UserID, tran.IdempotencyKey); err == nil {
		return nil, domain.ErrDuplicateKey
	}
	clone := *tran
	tx.pending = append(tx.pending, &clone)
	result := clone
	return &result, nil
}

// view 已提交 + 暫存中的交易
func (tx *mutexTx) view(userID uuid.UUID) []*domain.Transaction {
	trans := tx.ledger.snapshot(userID)
	for _, tran := range tx.pending {
		if tran.UserID == userID {
			trans = append(trans, tran)
		}
	}
	return trans
}

// listPage 依 created_at DESC, id DESC 排序後分頁，回傳複本
func listPage(trans []*domain.Transaction, filter domain.ListFilter) ([]*domain.Transaction, int64) {
	matched := make([]*domain.Transaction, 0, len(trans))
	for _, tran := range trans {
		if filter.Type != "" && tran.Type != filter.Type {
			continue
		}
		matched = append(matched, tran)
	}
	slices.SortFunc(matched, func(a, b *domain.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(b.ID[:], a.ID[:])
	})

	total := int64(len(matched))
	offset := filter.Offset()
	if offset >= len(matched) || filter.Limit <= 0 {
		return []*domain.Transaction{}, total
	}
	end := min(offset+filter.Limit, len(matched))

	page := make([]*domain.Transaction, 0, end-offset)
	for _, tran := range matched[offset:end] {
		clone := *tran
		page = append(page, &clone)
	}
	return page, total
}

var _ usecase.Ledger = (*MutexLedger)(nil)
