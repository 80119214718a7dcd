// Package chain defines the narrow chain state reader the audit engine
// consumes, and a rate-limited, retrying decorator around it.
package chain

import (
	"context"
	"encoding/json"
	"strings"
)

// BlockID identifies a block by hash.
type BlockID string

type Header struct {
	Number     uint64  `json:"number"`
	Hash       BlockID `json:"hash"`
	ParentHash BlockID `json:"parentHash"`
}

// Phase is the part of block execution that emitted an event.
type Phase string

const (
	PhaseInitialization Phase = "initialization"
	PhaseApplyExtrinsic Phase = "applyExtrinsic"
	PhaseFinalization   Phase = "finalization"
)

// Event is a decoded runtime event. Data holds the positional fields.
type Event struct {
	Phase  Phase             `json:"phase"`
	Pallet string            `json:"pallet"`
	Method string            `json:"method"`
	Data   []json.RawMessage `json:"data"`
}

// Is matches pallet and method case-insensitively on the pallet name, as
// readers differ in how they render it.
func (e Event) Is(pallet, method string) bool {
	return strings.EqualFold(e.Pallet, pallet) && e.Method == method
}

// Entry is one (key, value) pair of a storage map. Keys holds the decoded
// map key arguments in declaration order.
type Entry struct {
	Keys  []json.RawMessage `json:"keys"`
	Value json.RawMessage   `json:"value"`
}

// Reader exposes historical chain state pinned at a block. Values come back
// as JSON renderings of the decoded storage types; absent values are nil.
// Implementations paginate map reads internally.
type Reader interface {
	Head(ctx context.Context) (*Header, error)
	BlockHash(ctx context.Context, height uint64) (BlockID, error)
	Header(ctx context.Context, id BlockID) (*Header, error)
	ReadMapEntries(ctx context.Context, id BlockID, key StorageKey, args ...interface{}) ([]Entry, error)
	ReadValue(ctx context.Context, id BlockID, key StorageKey, args ...interface{}) (json.RawMessage, error)
	ReadEvents(ctx context.Context, id BlockID) ([]Event, error)
}

// IsEmpty reports whether a value read from storage was absent.
func IsEmpty(v json.RawMessage) bool {
	s := strings.TrimSpace(string(v))
	return s == "" || s == "null"
}
