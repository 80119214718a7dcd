package snapshot

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"rewardaudit/chain"
	"rewardaudit/staking"
)

// LoadRequests returns every pending decrease or revoke at block, translated
// into the canonical shape whatever the runtime stored.
func (l *Loader) LoadRequests(ctx context.Context, block uint64, runtime staking.Runtime) ([]staking.ScheduledRequest, error) {

	id, err := l.reader.BlockHash(ctx, block)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to get hash of block %d", block)
	}

	var shapes []staking.RequestShape
	if runtime.HasScheduledRequests() {
		shapes, err = l.currentRequests(ctx, id)
	} else {
		shapes, err = l.legacyRequests(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	var out []staking.ScheduledRequest
	for _, shape := range shapes {
		out = append(out, shape.Canonical()...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Candidate != out[j].Candidate {
			return staking.AccountLess(out[i].Candidate, out[j].Candidate)
		}
		return staking.AccountLess(out[i].Delegator, out[j].Delegator)
	})

	return out, nil
}

// LoadRevocations indexes the outstanding revokes at block by candidate.
func (l *Loader) LoadRevocations(ctx context.Context, block uint64, runtime staking.Runtime) (staking.Revocations, error) {

	requests, err := l.LoadRequests(ctx, block, runtime)
	if err != nil {
		return nil, err
	}

	return staking.RevocationsFrom(requests), nil
}

func (l *Loader) currentRequests(ctx context.Context, id chain.BlockID) ([]staking.RequestShape, error) {

	entries, err := l.reader.ReadMapEntries(ctx, id, chain.DelegationScheduledRequests)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to read scheduled requests")
	}

	shapes := make([]staking.RequestShape, 0, len(entries))
	for _, e := range entries {

		candidate, err := entryAccount(e, 0)
		if err != nil {
			return nil, &decodeError{key: chain.DelegationScheduledRequests, err: err}
		}

		var requests []scheduledRequestJSON
		if err := decodeValue(e.Value, chain.DelegationScheduledRequests, &requests); err != nil {
			return nil, err
		}

		shape := staking.CurrentRequests{Candidate: candidate}
		for _, r := range requests {
			action, amount, err := decodeAction(r.Action)
			if err != nil {
				return nil, &decodeError{key: chain.DelegationScheduledRequests, err: err}
			}
			shape.Requests = append(shape.Requests, staking.CurrentRequest{
				Delegator:      r.Delegator,
				WhenExecutable: uint32(r.WhenExecutable),
				Action:         action,
				Amount:         amount.Int(),
			})
		}

		shapes = append(shapes, shape)
	}

	return shapes, nil
}

// legacyRequests reads the requests older runtimes kept inside each
// delegator's state.
func (l *Loader) legacyRequests(ctx context.Context, id chain.BlockID) ([]staking.RequestShape, error) {

	entries, err := l.reader.ReadMapEntries(ctx, id, chain.DelegatorState)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to read delegator state")
	}

	shapes := make([]staking.RequestShape, 0, len(entries))
	for _, e := range entries {

		delegator, err := entryAccount(e, 0)
		if err != nil {
			return nil, &decodeError{key: chain.DelegatorState, err: err}
		}

		var state delegatorStateJSON
		if err := decodeValue(e.Value, chain.DelegatorState, &state); err != nil {
			return nil, err
		}

		shape := staking.LegacyRequests{
			Delegator:        delegator,
			RevocationsCount: uint32(state.Requests.RevocationsCount),
			Requests:         make(map[staking.AccountID]staking.LegacyRequest, len(state.Requests.Requests)),
			LessTotal:        state.Requests.LessTotal.Int(),
		}

		for key, r := range state.Requests.Requests {
			if !common.IsHexAddress(key) {
				return nil, &decodeError{key: chain.DelegatorState, err: errors.Errorf("bad collator key %q", key)}
			}
			action, err := decodeLegacyAction(r.Action)
			if err != nil {
				return nil, &decodeError{key: chain.DelegatorState, err: err}
			}
			shape.Requests[common.HexToAddress(key)] = staking.LegacyRequest{
				Collator:       r.Collator,
				Amount:         r.Amount.Int(),
				WhenExecutable: uint32(r.WhenExecutable),
				Action:         action,
			}
		}

		shapes = append(shapes, shape)
	}

	return shapes, nil
}
