package nvs

import (
	"fmt"
	"sync"
)

// Op names a store operation for fault injection.
type Op int

const (
	OpGet Op = iota
	OpSet
	OpErase
)

type faultKey struct {
	op  Op
	key string
}

// MemoryStore is an in-memory Store. Staged writes are kept apart from the
// committed image so tests can simulate power loss with Reopen.
type MemoryStore struct {
	mu        sync.Mutex
	staged    table
	committed table

	faults      map[faultKey]error
	commitFault error

	commits int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		staged:    make(table),
		committed: make(table),
		faults:    make(map[faultKey]error),
	}
}

// Fail makes every op on key return err until cleared with a nil err.
func (m *MemoryStore) Fail(op Op, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, faultKey{op, key})
		return
	}
	m.faults[faultKey{op, key}] = err
}

// FailCommit makes Commit return err until cleared with nil.
func (m *MemoryStore) FailCommit(err error) {
	m.mu.Lock()
	m.commitFault = err
	m.mu.Unlock()
}

// Commits reports how many successful commits happened.
func (m *MemoryStore) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Reopen returns a new store holding only the committed image, as seen after
// a restart. Faults are not carried over.
func (m *MemoryStore) Reopen() *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &MemoryStore{
		staged:    m.committed.clone(),
		committed: m.committed.clone(),
		faults:    make(map[faultKey]error),
	}
}

// Keys implements Keys over the staged view.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.staged))
	for k := range m.staged {
		keys = append(keys, k)
	}
	return keys
}

func (m *MemoryStore) fault(op Op, key string) error {
	if err, ok := m.faults[faultKey{op, key}]; ok {
		return fmt.Errorf("nvs %s: %w", key, err)
	}
	return nil
}

func (m *MemoryStore) get(key string, kind Kind) (entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpGet, key); err != nil {
		return entry{}, err
	}
	return m.staged.get(key, kind)
}

func (m *MemoryStore) set(key string, e entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpSet, key); err != nil {
		return err
	}
	m.staged[key] = e
	return nil
}

func (m *MemoryStore) GetU8(key string) (uint8, error) {
	e, err := m.get(key, KindU8)
	return uint8(e.Uint), err
}

func (m *MemoryStore) SetU8(key string, v uint8) error {
	return m.set(key, entry{Kind: KindU8, Uint: uint32(v)})
}

func (m *MemoryStore) GetI8(key string) (int8, error) {
	e, err := m.get(key, KindI8)
	return e.Int, err
}

func (m *MemoryStore) SetI8(key string, v int8) error {
	return m.set(key, entry{Kind: KindI8, Int: v})
}

func (m *MemoryStore) GetU32(key string) (uint32, error) {
	e, err := m.get(key, KindU32)
	return e.Uint, err
}

func (m *MemoryStore) SetU32(key string, v uint32) error {
	return m.set(key, entry{Kind: KindU32, Uint: v})
}

func (m *MemoryStore) GetString(key string) (string, error) {
	e, err := m.get(key, KindString)
	return e.Str, err
}

func (m *MemoryStore) SetString(key string, v string) error {
	return m.set(key, entry{Kind: KindString, Str: v})
}

func (m *MemoryStore) GetBlob(key string) ([]byte, error) {
	e, err := m.get(key, KindBlob)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), e.Blob...), nil
}

func (m *MemoryStore) SetBlob(key string, v []byte) error {
	return m.set(key, entry{Kind: KindBlob, Blob: append([]byte(nil), v...)})
}

func (m *MemoryStore) Erase(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpErase, key); err != nil {
		return err
	}
	delete(m.staged, key)
	return nil
}

func (m *MemoryStore) Discard(key string) error {
	m.mu.Lock()
	m.staged.restore(m.committed, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitFault != nil {
		return fmt.Errorf("nvs commit: %w", m.commitFault)
	}
	m.committed = m.staged.clone()
	m.commits++
	return nil
}
