package conversation

import "sync"

// KeyedLocker 按对话方串行化 load-decide-save 流程。
// 锁在最后一个持有者释放后回收。
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLocker 创建一个空的 KeyedLocker。
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

// Lock 获取 counterpartyID 对应的锁，返回的函数用于释放。
func (l *KeyedLocker) Lock(counterpartyID string) func() {
	key := NormalizeID(counterpartyID)

	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &keyedLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
