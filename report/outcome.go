package report

import (
	"github.com/holiman/uint256"

	"rewardaudit/staking"
)

// EntityDiff splits the entities of one block into those both expected and
// observed, those expected but absent, and those observed but not expected.
type EntityDiff struct {
	Matched    []staking.AccountID
	Missing    []staking.AccountID
	Unexpected []staking.AccountID
}

// BlockOutcome is the reconciliation of one reward block.
type BlockOutcome struct {
	Offset int
	Block  uint64

	// Collator is the collator rewarded in the block, nil when none was.
	Collator *staking.AccountID
	// SharePerbill is the collator's points share of the round.
	SharePerbill staking.Perbill
	// AlsoRewarded holds the awarded collators paid in the block after Collator.
	AlsoRewarded []staking.AccountID

	Delegators EntityDiff
	Compounds  EntityDiff

	// Total is the sum of every reward event in the block.
	Total *uint256.Int
	// Commission is the part of the collator's reward credited as commission.
	Commission *uint256.Int
	// BondRewarded is everything paid out of the collator's bond reward.
	BondRewarded *uint256.Int
	// BondLoss is the rounding loss the calculation expects on this collator.
	BondLoss *uint256.Int

	Findings []Finding
}

// Skipped reports whether no collator was rewarded in the block.
func (o *BlockOutcome) Skipped() bool {
	return o.Collator == nil
}

// NewOutcome returns an empty outcome for a block with zeroed amounts.
func NewOutcome(offset int, block uint64) *BlockOutcome {
	return &BlockOutcome{
		Offset:       offset,
		Block:        block,
		Total:        new(uint256.Int),
		Commission:   new(uint256.Int),
		BondRewarded: new(uint256.Int),
		BondLoss:     new(uint256.Int),
	}
}
