// Package chaintest provides an in-memory chain.Reader for tests.
package chaintest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"rewardaudit/chain"
)

// ErrInjected is returned by calls failed on purpose.
var ErrInjected = errors.New("injected failure")

// Chain is a fake chain whose storage values hold from the block they are set
// at until overwritten. Events belong to a single block.
type Chain struct {
	mu sync.Mutex

	head    uint64
	values  map[string]map[uint64]json.RawMessage
	entries map[string]map[uint64][]chain.Entry
	events  map[uint64][]chain.Event

	failures int
	calls    int
}

func New(head uint64) *Chain {
	return &Chain{
		head:    head,
		values:  make(map[string]map[uint64]json.RawMessage),
		entries: make(map[string]map[uint64][]chain.Entry),
		events:  make(map[uint64][]chain.Event),
	}
}

// Hash is the fake block hash of height n.
func Hash(n uint64) chain.BlockID {
	return chain.BlockID(fmt.Sprintf("0x%064x", n))
}

func heightOf(id chain.BlockID) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(string(id), "0x"), 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "unknown block %s", id)
	}
	return n, nil
}

func storageKey(key chain.StorageKey, args []interface{}) string {
	encoded, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return key.String() + "/" + string(encoded)
}

// MustJSON marshals v or panics.
func MustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func (c *Chain) SetHead(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = n
}

// SetValue stores value for key(args...) from block `from` onward.
func (c *Chain) SetValue(from uint64, key chain.StorageKey, value interface{}, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := storageKey(key, args)
	if c.values[k] == nil {
		c.values[k] = make(map[uint64]json.RawMessage)
	}
	c.values[k][from] = MustJSON(value)
}

// SetEntries stores the map entries under key(prefix...) from block `from` onward.
func (c *Chain) SetEntries(from uint64, key chain.StorageKey, entries []chain.Entry, prefix ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := storageKey(key, prefix)
	if c.entries[k] == nil {
		c.entries[k] = make(map[uint64][]chain.Entry)
	}
	c.entries[k][from] = entries
}

// NewEntry builds a map entry from plain values.
func NewEntry(value interface{}, keys ...interface{}) chain.Entry {
	e := chain.Entry{Value: MustJSON(value)}
	for _, k := range keys {
		e.Keys = append(e.Keys, MustJSON(k))
	}
	return e
}

// SetEvents replaces the events of one block.
func (c *Chain) SetEvents(block uint64, events ...chain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[block] = events
}

// AddEvents appends events to one block.
func (c *Chain) AddEvents(block uint64, events ...chain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[block] = append(c.events[block], events...)
}

// NewEvent builds an event with positional data.
func NewEvent(phase chain.Phase, pallet, method string, data ...interface{}) chain.Event {
	e := chain.Event{Phase: phase, Pallet: pallet, Method: method}
	for _, d := range data {
		e.Data = append(e.Data, MustJSON(d))
	}
	return e
}

// FailNext makes the next n calls fail with ErrInjected.
func (c *Chain) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = n
}

// Calls returns the number of reader calls served, failed ones included.
func (c *Chain) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *Chain) enter(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.failures > 0 {
		c.failures--
		return ErrInjected
	}
	return nil
}

func latest[T any](history map[uint64]T, at uint64) (T, bool) {
	var (
		best  T
		found bool
		bestH uint64
	)
	for h, v := range history {
		if h <= at && (!found || h > bestH) {
			best, bestH, found = v, h, true
		}
	}
	return best, found
}

func (c *Chain) Head(ctx context.Context) (*chain.Header, error) {
	if err := c.enter(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header(c.head), nil
}

func (c *Chain) header(n uint64) *chain.Header {
	h := &chain.Header{Number: n, Hash: Hash(n)}
	if n > 0 {
		h.ParentHash = Hash(n - 1)
	}
	return h
}

func (c *Chain) BlockHash(ctx context.Context, height uint64) (chain.BlockID, error) {
	if err := c.enter(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if height > c.head {
		return "", errors.Errorf("block %d beyond head %d", height, c.head)
	}
	return Hash(height), nil
}

func (c *Chain) Header(ctx context.Context, id chain.BlockID) (*chain.Header, error) {
	if err := c.enter(ctx); err != nil {
		return nil, err
	}
	n, err := heightOf(id)
	if err != nil {
		return nil, err
	}
	return c.header(n), nil
}

func (c *Chain) ReadMapEntries(ctx context.Context, id chain.BlockID, key chain.StorageKey, args ...interface{}) ([]chain.Entry, error) {
	if err := c.enter(ctx); err != nil {
		return nil, err
	}
	n, err := heightOf(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entries, _ := latest(c.entries[storageKey(key, args)], n)
	return entries, nil
}

func (c *Chain) ReadValue(ctx context.Context, id chain.BlockID, key chain.StorageKey, args ...interface{}) (json.RawMessage, error) {
	if err := c.enter(ctx); err != nil {
		return nil, err
	}
	n, err := heightOf(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	v, _ := latest(c.values[storageKey(key, args)], n)
	return v, nil
}

func (c *Chain) ReadEvents(ctx context.Context, id chain.BlockID) ([]chain.Event, error) {
	if err := c.enter(ctx); err != nil {
		return nil, err
	}
	n, err := heightOf(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[n], nil
}
