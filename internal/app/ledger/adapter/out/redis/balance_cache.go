package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/ledger/usecase"
)

// DefaultTTL 快取過期時間，寫入後的 Invalidate 失敗時，最多舊這麼久
const DefaultTTL = 30 * time.Second

// generationTTL 版本號的過期時間，遠大於餘額的 TTL，Invalidate 時延長
const generationTTL = 24 * time.Hour

// key 使用 hash tag，讓同一使用者的餘額與版本號落在同一個 cluster slot
const (
	balancePrefix    = "ledger:balance:"
	generationPrefix = "ledger:balance:gen:"
)

// setIfGeneration 版本號仍為 ARGV[1] 時才寫入餘額
//
//	KEYS[1]: 版本號 key
//	KEYS[2]: 餘額 key
//	ARGV: generation, balance, ttl (ms)
var setIfGeneration = goredis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Config Redis 連線配置
type Config struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"balance_ttl"`
}

// BalanceCache 以 Redis 實作的餘額快取，只給 GetBalance 使用
type BalanceCache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewClient 建立 Redis 連線並確認可用
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewBalanceCache ttl <= 0 時使用 DefaultTTL
func NewBalanceCache(rdb *goredis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BalanceCache{rdb: rdb, ttl: ttl}
}

func balanceKey(userID uuid.UUID) string {
	return balancePrefix + "{" + userID.String() + "}"
}

func generationKey(userID uuid.UUID) string {
	return generationPrefix + "{" + userID.String() + "}"
}

// Get 回傳 (餘額, 是否命中, 錯誤)
func (c *BalanceCache) Get(ctx context.Context, userID uuid.UUID) (domain.Amount, bool, error) {
	raw, err := c.rdb.Get(ctx, balanceKey(userID)).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt balance cache entry %q: %w", raw, err)
	}
	return domain.Amount(v), true, nil
}

// Generation 版本號，key 不存在時為 0
func (c *BalanceCache) Generation(ctx context.Context, userID uuid.UUID) (int64, error) {
	gen, err := c.rdb.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Set 版本號已被 Invalidate 改變時不寫入
func (c *BalanceCache) Set(ctx context.Context, userID uuid.UUID, generation int64, balance domain.Amount) error {
	return setIfGeneration.Run(ctx, c.rdb,
		[]string{generationKey(userID), balanceKey(userID)},
		strconv.FormatInt(generation, 10),
		strconv.FormatInt(int64(balance), 10),
		c.ttl.Milliseconds(),
	).Err()
}

// Invalidate 遞增版本號並刪除餘額 (MULTI/EXEC)
func (c *BalanceCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(userID))
		pipe.Expire(ctx, generationKey(userID), generationTTL)
		pipe.Del(ctx, balanceKey(userID))
		return nil
	})
	return err
}

var _ usecase.BalanceCache = (*BalanceCache)(nil)
