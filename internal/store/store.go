// Package store provides the ordered key-value storage behind the ledger.
// All mutations issued during one call are staged in a Txn and applied
// together on Commit, or dropped on Discard.
package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sort"
)

// ErrTxnClosed is returned when a committed or discarded Txn is used again.
var ErrTxnClosed = errors.New("transaction already closed")

// Pair is one key/value entry returned by a range scan.
type Pair struct {
	Key   []byte
	Value []byte
}

// KV is ordered key-value access.
type KV interface {
	Get(key []byte) ([]byte, bool, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// RangePrefix returns every entry whose key starts with prefix,
	// ascending by key.
	RangePrefix(prefix []byte) ([]Pair, error)
}

// Store is a KV that can open transactions.
type Store interface {
	KV
	Begin(ctx context.Context) (Txn, error)
}

// Txn is a staged write-set over a Store.
type Txn interface {
	KV
	Commit(ctx context.Context) error
	Discard()
}

// Committer applies a finished write-set atomically.
type Committer interface {
	apply(ctx context.Context, writes []write) error
}

type write struct {
	key    string
	value  []byte
	delete bool
}

// stagedTxn buffers writes in memory and reads through to the base.
type stagedTxn struct {
	base      KV
	committer Committer
	writes    map[string]write
	closed    bool
}

func newStagedTxn(base KV, committer Committer) *stagedTxn {
	return &stagedTxn{
		base:      base,
		committer: committer,
		writes:    make(map[string]write),
	}
}

func (t *stagedTxn) Get(key []byte) ([]byte, bool, error) {
	if t.closed {
		return nil, false, ErrTxnClosed
	}
	if w, ok := t.writes[string(key)]; ok {
		if w.delete {
			return nil, false, nil
		}
		return cloneBytes(w.value), true, nil
	}
	return t.base.Get(key)
}

func (t *stagedTxn) Set(key, value []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	t.writes[string(key)] = write{key: string(key), value: cloneBytes(value)}
	return nil
}

func (t *stagedTxn) Delete(key []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	t.writes[string(key)] = write{key: string(key), delete: true}
	return nil
}

// RangePrefix merges staged writes over the base range.
func (t *stagedTxn) RangePrefix(prefix []byte) ([]Pair, error) {
	if t.closed {
		return nil, ErrTxnClosed
	}
	basePairs, err := t.base.RangePrefix(prefix)
	if err != nil {
		return nil, err
	}

	merged := make(map[string][]byte, len(basePairs))
	for _, p := range basePairs {
		merged[string(p.Key)] = p.Value
	}
	for k, w := range t.writes {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if w.delete {
			delete(merged, k)
		} else {
			merged[k] = w.value
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Pair, 0, len(keys))
	for _, k := range keys {
		out = append(out, Pair{Key: []byte(k), Value: cloneBytes(merged[k])})
	}
	return out, nil
}

func (t *stagedTxn) Commit(ctx context.Context) error {
	if t.closed {
		return ErrTxnClosed
	}
	t.closed = true

	writes := make([]write, 0, len(t.writes))
	for _, w := range t.writes {
		writes = append(writes, w)
	}
	// Deterministic apply order
	sort.Slice(writes, func(i, j int) bool { return writes[i].key < writes[j].key })

	return t.committer.apply(ctx, writes)
}

func (t *stagedTxn) Discard() {
	t.closed = true
	t.writes = nil
}

// --- Key encoding ---

// Key builds a composite key: namespace, then every part except the last
// prefixed by its 2-byte big-endian length, then the last part raw.
func Key(namespace string, parts ...string) []byte {
	buf := make([]byte, 0, 64)
	buf = appendLengthPrefixed(buf, namespace)
	for i, p := range parts {
		if i == len(parts)-1 {
			buf = append(buf, p...)
		} else {
			buf = appendLengthPrefixed(buf, p)
		}
	}
	return buf
}

// Prefix builds the key prefix shared by every entry under the given
// leading parts, each length-prefixed.
func Prefix(namespace string, parts ...string) []byte {
	buf := make([]byte, 0, 64)
	buf = appendLengthPrefixed(buf, namespace)
	for _, p := range parts {
		buf = appendLengthPrefixed(buf, p)
	}
	return buf
}

func appendLengthPrefixed(buf []byte, s string) []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s)))
	buf = append(buf, l[:]...)
	return append(buf, s...)
}

// PrefixEnd returns the smallest key greater than every key with prefix,
// or nil if no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := cloneBytes(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
