package state

import (
	"encoding/binary"
	"math"

	"github.com/ethereum/go-ethereum/rlp"

	"stakeledger/core/events"
	"stakeledger/core/types"
	"stakeledger/storage"
)

var (
	outboxPrefix = []byte("stake_outbox/")
	outboxSeqKey = []byte("stake_outbox_seq")
)

type storedAttribute struct {
	Key   string
	Value string
}

type storedRecord struct {
	Sequence   uint64
	Timestamp  uint64
	Type       string
	Attributes []storedAttribute
}

func outboxKey(seq uint64) []byte {
	key := make([]byte, len(outboxPrefix)+8)
	copy(key, outboxPrefix)
	binary.BigEndian.PutUint64(key[len(outboxPrefix):], seq)
	return key
}

// appendOutbox stages evts into batch with consecutive sequence numbers.
// Callers must hold outboxMu until the batch is written.
func (m *Manager) appendOutbox(batch storage.Batch, evts []*types.Event, timestamp int64) ([]events.Record, error) {
	if len(evts) == 0 {
		return nil, nil
	}
	ts, err := nonNegative("event timestamp", timestamp)
	if err != nil {
		return nil, err
	}
	records := make([]events.Record, 0, len(evts))
	seq := m.lastSeq
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		seq++
		stored := storedRecord{Sequence: seq, Timestamp: ts, Type: evt.Type}
		for _, k := range evt.Keys() {
			stored.Attributes = append(stored.Attributes, storedAttribute{Key: k, Value: evt.Attributes[k]})
		}
		if err := putEncoded(batch, outboxKey(seq), &stored); err != nil {
			return nil, err
		}
		records = append(records, events.Record{Sequence: seq, Timestamp: timestamp, Event: evt})
	}
	if len(records) > 0 {
		if err := putEncoded(batch, outboxSeqKey, seq); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (r *storedRecord) toRecord() events.Record {
	attrs := make(map[string]string, len(r.Attributes))
	for _, attr := range r.Attributes {
		attrs[attr.Key] = attr.Value
	}
	return events.Record{
		Sequence:  r.Sequence,
		Timestamp: int64(r.Timestamp),
		Event:     &types.Event{Type: r.Type, Attributes: attrs},
	}
}

// LastSequence returns the sequence of the most recently committed record.
func (m *Manager) LastSequence() uint64 {
	m.outboxMu.Lock()
	defer m.outboxMu.Unlock()
	return m.lastSeq
}

// OutboxSince returns up to limit records with a sequence greater than after,
// in sequence order. A non-positive limit returns every remaining record.
func (m *Manager) OutboxSince(after uint64, limit int) ([]events.Record, error) {
	var (
		out       []events.Record
		decodeErr error
	)
	if after == math.MaxUint64 {
		return nil, nil
	}
	err := m.db.IterateFrom(outboxPrefix, outboxKey(after+1), func(_, value []byte) bool {
		var stored storedRecord
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			decodeErr = err
			return false
		}
		out = append(out, stored.toRecord())
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return out, nil
}
