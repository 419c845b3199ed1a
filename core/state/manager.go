package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/storage"
)

// Manager is the single-writer view over persisted node state. Writes land
// in an in-memory overlay and reach the database only when the enclosing
// Atomic call commits, so an operation either persists all of its changes or
// none of them.
type Manager struct {
	db storage.Database

	// txMu serialises Atomic and View callers.
	txMu sync.Mutex

	mu      sync.RWMutex
	dirty   map[string]overlayValue
	journal []journalEntry
}

type overlayValue struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    overlayValue
	hadPrev bool
}

// NewManager creates a state manager persisting into db.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:    db,
		dirty: make(map[string]overlayValue),
	}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) get(hashed []byte) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.dirty[string(hashed)]
	m.mu.RUnlock()
	if ok {
		if entry.deleted {
			return nil, nil
		}
		return entry.value, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read: %w", err)
	}
	return data, nil
}

func (m *Manager) set(hashed []byte, value overlayValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(hashed)
	prev, had := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, hadPrev: had})
	m.dirty[key] = value
}

// Snapshot returns an identifier that can later be passed to
// RevertToSnapshot to undo every write made after this point.
func (m *Manager) Snapshot() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.journal)
}

// RevertToSnapshot rolls the overlay back to the given snapshot.
func (m *Manager) RevertToSnapshot(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 {
		id = 0
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.hadPrev {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	if id < len(m.journal) {
		m.journal = m.journal[:id]
	}
}

// Pending reports the number of keys waiting to be committed.
func (m *Manager) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dirty)
}

// Commit writes every pending key with a single batch and clears the
// overlay. The overlay is kept intact when the batch fails.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	keys := make([]string, 0, len(m.dirty))
	for k := range m.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := m.db.NewBatch()
	for _, k := range keys {
		entry := m.dirty[k]
		if entry.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), entry.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string]overlayValue)
	m.journal = m.journal[:0]
	return nil
}

// Atomic runs fn as one all-or-nothing unit. Calls are serialised. When fn
// returns an error (or panics) every write it made is reverted; otherwise
// the writes are committed together.
func (m *Manager) Atomic(fn func() error) (err error) {
	m.txMu.Lock()
	snap := m.Snapshot()
	committed := false
	defer func() {
		if !committed {
			m.RevertToSnapshot(snap)
		}
		m.txMu.Unlock()
	}()
	if err = fn(); err != nil {
		return err
	}
	if err = m.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// View runs fn while holding the writer lock so it never observes a
// half-applied operation.
func (m *Manager) View(fn func() error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn()
}

// KVPut stores the RLP encoding of value under the supplied key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.set(kvKey(key), overlayValue{value: encoded})
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.set(kvKey(key), overlayValue{deleted: true})
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if _, err := m.KVGet(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVGetList returns the byte slice list stored under key.
func (m *Manager) KVGetList(key []byte) ([][]byte, error) {
	var list [][]byte
	if _, err := m.KVGet(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}
