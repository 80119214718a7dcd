package chain

import (
	"context"
	"encoding/json"
)

// LimitedReader routes every query of an underlying reader through a Limiter.
type LimitedReader struct {
	inner   Reader
	limiter *Limiter
}

func NewLimitedReader(inner Reader, limiter *Limiter) *LimitedReader {
	return &LimitedReader{inner: inner, limiter: limiter}
}

func (r *LimitedReader) Head(ctx context.Context) (*Header, error) {

	var h *Header
	err := r.limiter.Do(ctx, "head", func(ctx context.Context) (err error) {
		h, err = r.inner.Head(ctx)
		return err
	})

	return h, err
}

func (r *LimitedReader) BlockHash(ctx context.Context, height uint64) (BlockID, error) {

	var id BlockID
	err := r.limiter.Do(ctx, "blockHash", func(ctx context.Context) (err error) {
		id, err = r.inner.BlockHash(ctx, height)
		return err
	})

	return id, err
}

func (r *LimitedReader) Header(ctx context.Context, id BlockID) (*Header, error) {

	var h *Header
	err := r.limiter.Do(ctx, "header", func(ctx context.Context) (err error) {
		h, err = r.inner.Header(ctx, id)
		return err
	})

	return h, err
}

func (r *LimitedReader) ReadMapEntries(ctx context.Context, id BlockID, key StorageKey, args ...interface{}) ([]Entry, error) {

	var entries []Entry
	err := r.limiter.Do(ctx, "entries "+key.String(), func(ctx context.Context) (err error) {
		entries, err = r.inner.ReadMapEntries(ctx, id, key, args...)
		return err
	})

	return entries, err
}

func (r *LimitedReader) ReadValue(ctx context.Context, id BlockID, key StorageKey, args ...interface{}) (json.RawMessage, error) {

	var v json.RawMessage
	err := r.limiter.Do(ctx, "value "+key.String(), func(ctx context.Context) (err error) {
		v, err = r.inner.ReadValue(ctx, id, key, args...)
		return err
	})

	return v, err
}

func (r *LimitedReader) ReadEvents(ctx context.Context, id BlockID) ([]Event, error) {

	var events []Event
	err := r.limiter.Do(ctx, "events", func(ctx context.Context) (err error) {
		events, err = r.inner.ReadEvents(ctx, id)
		return err
	})

	return events, err
}
