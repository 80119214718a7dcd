package payout

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"rewardaudit/staking"
)

// ErrStakingRewardMismatch is matched by every MismatchError.
var ErrStakingRewardMismatch = errors.New("staking reward does not match the chain's record")

// MismatchError is a disagreement between the recomputed round totals and
// what the chain recorded for them. It is a hard failure, never a rounding
// discrepancy.
type MismatchError struct {
	Round    uint32
	Field    string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("round %d %s mismatch: expected %s, actual %s", e.Round, e.Field, e.Expected, e.Actual)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrStakingRewardMismatch
}

// CheckDelayedPayout compares the derived total staking reward with the
// chain's own delayed payout record.
func CheckDelayedPayout(res *Result, delayed *staking.DelayedPayout) error {

	if delayed == nil {
		return &MismatchError{
			Round:    res.Round,
			Field:    "delayed payout record",
			Expected: staking.FormatBalance(res.TotalStakingReward),
			Actual:   "absent",
		}
	}

	if !delayed.TotalStakingReward.Eq(res.TotalStakingReward) {
		return &MismatchError{
			Round:    res.Round,
			Field:    "total staking reward",
			Expected: staking.FormatBalance(res.TotalStakingReward),
			Actual:   staking.FormatBalance(delayed.TotalStakingReward),
		}
	}

	return nil
}

// CheckBondReserve compares the parachain bond reward with the amount the
// chain reported transferring. A round without a transfer passes.
func CheckBondReserve(res *Result, reserved *uint256.Int) error {

	if reserved == nil || reserved.IsZero() {
		return nil
	}

	if !reserved.Eq(res.ParachainBondReward) {
		return &MismatchError{
			Round:    res.Round,
			Field:    "parachain bond reserve",
			Expected: staking.FormatBalance(res.ParachainBondReward),
			Actual:   staking.FormatBalance(reserved),
		}
	}

	return nil
}

// ExpectedCompounds returns, per delegator, the amount expected to be
// auto-compounded from its reward: the percent of the reward rounded up.
// Delegators with an outstanding revoke against the collator, a zero reward
// or a zero percent are left out.
func ExpectedCompounds(cp *CollatorPayout, revokes staking.Revocations) map[staking.AccountID]*uint256.Int {

	out := make(map[staking.AccountID]*uint256.Int)
	for _, d := range cp.Delegators {
		if d.AutoCompound.IsZero() || d.Total.IsZero() {
			continue
		}
		if revokes.Has(cp.Collator.Entity, d.Entity) {
			continue
		}
		out[d.Entity] = d.AutoCompound.OfCeil(d.Total)
	}

	return out
}
