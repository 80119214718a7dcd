package snapshot

import (
	"context"

	"github.com/pkg/errors"

	"rewardaudit/chain"
	"rewardaudit/staking"
)

// Orbiters maps each orbiter that produced blocks for the round paid at
// block to the collator it stood in for. The mapping is read at the block
// before, as orbiters are dropped from it in the block that rewards them.
func (l *Loader) Orbiters(ctx context.Context, block uint64) (map[staking.AccountID]staking.AccountID, error) {

	if block == 0 {
		return nil, errors.Wrap(ErrRoundUnderflow, "no block precedes genesis")
	}

	info, _, err := l.roundAt(ctx, block)
	if err != nil {
		return nil, err
	}
	if info.Current < 2 {
		return nil, errors.Wrapf(ErrRoundUnderflow, "round %d has no orbiter round", info.Current)
	}

	prior, err := l.reader.BlockHash(ctx, block-1)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to get hash of block %d", block-1)
	}

	entries, err := l.reader.ReadMapEntries(ctx, prior, chain.OrbiterPerRound, info.Current-2)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to read orbiters")
	}

	out := make(map[staking.AccountID]staking.AccountID, len(entries))
	for _, e := range entries {

		collator, err := entryAccount(e, 1)
		if err != nil {
			return nil, &decodeError{key: chain.OrbiterPerRound, err: err}
		}

		var orbiter staking.AccountID
		if err := decodeValue(e.Value, chain.OrbiterPerRound, &orbiter); err != nil {
			return nil, err
		}

		out[orbiter] = collator
	}

	return out, nil
}
