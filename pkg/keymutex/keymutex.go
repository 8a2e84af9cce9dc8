package keymutex

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// entry 每個 key 一個容量為 1 的 semaphore，refs 歸零時從 map 移除，避免 map 無限成長
type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// KeyMutex 以 key 為單位的互斥鎖:
// 相同 key 互斥，不同 key 互不阻塞。等待時可透過 ctx 取消。
type KeyMutex[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

func New[K comparable]() *KeyMutex[K] {
	return &KeyMutex[K]{
		entries: make(map[K]*entry),
	}
}

// Lock 取得 key 的鎖
//
// 參數:
//
//	ctx: 上下文，取消時放棄等待
//	key: 鎖定的 key
//
// 回傳:
//
//	func(): 釋放鎖，只能呼叫一次
//	error: ctx 被取消或逾時
func (m *KeyMutex[K]) Lock(ctx context.Context, key K) (func(), error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		m.release(key, e)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			m.release(key, e)
		})
	}, nil
}

func (m *KeyMutex[K]) release(key K, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Len 目前持有或等待中的 key 數量
func (m *KeyMutex[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
