package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"stakeledger/storage"
)

// Manager persists ledger records in a key-value database. Values are RLP
// encoded. All multi-record mutations go through a single storage batch.
type Manager struct {
	db storage.Database

	// outboxMu serialises sequence allocation across pools.
	outboxMu sync.Mutex
	lastSeq  uint64
}

// NewManager opens the ledger state stored in db.
func NewManager(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, errors.New("state: database not configured")
	}
	m := &Manager{db: db}
	if err := m.ensureSchemaVersion(); err != nil {
		return nil, err
	}
	var last uint64
	ok, err := m.KVGet(outboxSeqKey, &last)
	if err != nil {
		return nil, fmt.Errorf("state: load outbox sequence: %w", err)
	}
	if ok {
		m.lastSeq = last
	}
	return m, nil
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// kvIterate decodes every record under prefix with decode until fn returns
// false.
func (m *Manager) kvIterate(prefix []byte, decode func(value []byte) (bool, error)) error {
	var decodeErr error
	err := m.db.Iterate(prefix, func(_, value []byte) bool {
		cont, err := decode(value)
		if err != nil {
			decodeErr = err
			return false
		}
		return cont
	})
	if err != nil {
		return err
	}
	return decodeErr
}

func putEncoded(batch storage.Batch, key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	batch.Put(key, encoded)
	return nil
}
