package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MemCache keeps entries in process memory. Nothing survives a restart.
// Store times are not kept.
type MemCache struct {
	mutex *sync.RWMutex
	db    map[string][]byte
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string][]byte),
	}
}

func (m MemCache) Get(key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	bytes, ok := m.db[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), bytes...), true, nil
}

func (m MemCache) Put(key string, _ time.Time, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = append([]byte(nil), bytes...)
	return nil
}

func (m MemCache) Has(key string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[key]
	return ok
}

func (m MemCache) Purge(key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}

func (m MemCache) AllKeys(prefix string, cb func(string)) error {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.db))
	for key := range m.db {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mutex.RUnlock()

	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}
