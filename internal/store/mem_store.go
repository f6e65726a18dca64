package store

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"
)

const defaultTreeDegree = 32

type item struct {
	key   string
	value []byte
}

func (i item) Less(o item) bool {
	return i.key < o.key
}

// MemStore is an ordered in-memory Store.
type MemStore struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[item]
}

func NewMemStore() *MemStore {
	return &MemStore{
		tree: btree.NewG(defaultTreeDegree, item.Less),
	}
}

func (m *MemStore) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.tree.Get(item{key: string(key)})
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(it.value), true, nil
}

func (m *MemStore) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree.ReplaceOrInsert(item{key: string(key), value: cloneBytes(value)})
	return nil
}

func (m *MemStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree.Delete(item{key: string(key)})
	return nil
}

func (m *MemStore) RangePrefix(prefix []byte) ([]Pair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Pair
	m.tree.AscendGreaterOrEqual(item{key: string(prefix)}, func(it item) bool {
		if !bytes.HasPrefix([]byte(it.key), prefix) {
			return false
		}
		out = append(out, Pair{Key: []byte(it.key), Value: cloneBytes(it.value)})
		return true
	})
	return out, nil
}

// Begin opens a staged transaction. The engine is the only writer, so
// reads go straight to the live tree.
func (m *MemStore) Begin(ctx context.Context) (Txn, error) {
	return newStagedTxn(m, m), nil
}

// Len returns the number of stored entries.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len()
}

func (m *MemStore) apply(ctx context.Context, writes []write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range writes {
		if w.delete {
			m.tree.Delete(item{key: w.key})
		} else {
			m.tree.ReplaceOrInsert(item{key: w.key, value: w.value})
		}
	}
	return nil
}
