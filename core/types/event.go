package types

import "sort"

// Event is the transport form of a ledger event: a type tag plus string
// attributes. Amounts are decimal strings so no precision is lost in JSON.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Keys returns the attribute names in ascending order. Encoders iterate in
// this order so the stored and hashed forms are deterministic.
func (e *Event) Keys() []string {
	if e == nil {
		return nil
	}
	keys := make([]string, 0, len(e.Attributes))
	for key := range e.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
