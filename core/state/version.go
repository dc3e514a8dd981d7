package state

import (
	"errors"
	"fmt"
)

// SchemaVersion identifies the on-disk layout of pools, positions and the
// outbox. Bump it with any change to the stored shapes.
const SchemaVersion uint64 = 1

var (
	schemaVersionKey = []byte("stake_schema_version")
	// ErrSchemaVersionMismatch is returned when the database was written by a
	// binary with a different layout.
	ErrSchemaVersionMismatch = errors.New("state: schema version mismatch")
)

// ensureSchemaVersion stamps a fresh database and rejects a foreign one.
func (m *Manager) ensureSchemaVersion() error {
	var stored uint64
	ok, err := m.KVGet(schemaVersionKey, &stored)
	if err != nil {
		return fmt.Errorf("state: load schema version: %w", err)
	}
	if !ok {
		return m.KVPut(schemaVersionKey, SchemaVersion)
	}
	if stored != SchemaVersion {
		return fmt.Errorf("%w: stored %d, supported %d", ErrSchemaVersionMismatch, stored, SchemaVersion)
	}
	return nil
}
