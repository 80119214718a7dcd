// Package payout recomputes what every collator and delegator should have
// been paid for a round. It is pure: no I/O, no logging, no shared state.
package payout

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"rewardaudit/staking"
)

// Input is everything the calculation reads.
type Input struct {
	Economics       staking.RoundEconomics
	Inflation       staking.InflationConfig
	CommissionRate  staking.Perbill
	BondPercent     staking.Percent
	BondTransferred bool
	Snapshots       []*staking.StakeSnapshot
}

// ExpectedReward is the amount one entity should receive.
type ExpectedReward struct {
	Entity           staking.AccountID
	Role             staking.Role
	Total            *uint256.Int
	CommissionReward *uint256.Int
	BondReward       *uint256.Int
	BondRewardLoss   *uint256.Int
	// Share is the entity's Perbill of the collator's bond reward.
	Share staking.Perbill
}

// DelegatorPayout is a delegator's expected reward under one collator.
type DelegatorPayout struct {
	ExpectedReward
	Stake        *uint256.Int
	AutoCompound staking.Percent
}

// CollatorBound is the rounding loss the chain may exhibit on one collator's
// bond reward: Estimated from the truncated shares, plus one unit per division.
type CollatorBound struct {
	Estimated *uint256.Int
	Tolerance uint64
}

// Max is the largest acceptable realized loss.
func (b CollatorBound) Max() *uint256.Int {
	return new(uint256.Int).Add(b.Estimated, uint256.NewInt(b.Tolerance))
}

// CollatorPayout is the expected split of one awarded collator's reward.
type CollatorPayout struct {
	Collator    ExpectedReward
	PointsShare staking.Perbill
	// Gross is the collator's points share of the total staking reward.
	Gross      *uint256.Int
	Commission *uint256.Int
	// BondReward is the part of Gross split by stake.
	BondReward *uint256.Int
	Delegators []DelegatorPayout
	// ShareSum is the total of the bond shares actually paid out.
	ShareSum staking.Perbill
	Bound    CollatorBound

	index map[staking.AccountID]int
}

// Delegator looks up a delegator's expected payout.
func (c *CollatorPayout) Delegator(id staking.AccountID) (*DelegatorPayout, bool) {
	i, ok := c.index[id]
	if !ok {
		return nil, false
	}
	return &c.Delegators[i], true
}

// Rewarded returns the delegators expected to receive a nonzero reward, in
// snapshot order.
func (c *CollatorPayout) Rewarded() []staking.AccountID {
	out := make([]staking.AccountID, 0, len(c.Delegators))
	for _, d := range c.Delegators {
		if !d.Total.IsZero() {
			out = append(out, d.Entity)
		}
	}
	return out
}

// LossBound is the theoretical rounding loss of the whole round.
type LossBound struct {
	Collators map[staking.AccountID]CollatorBound
	// ShareSum is the total of the awarded collators' points shares.
	ShareSum            staking.Perbill
	CommissionEstimated *uint256.Int
	BondEstimated       *uint256.Int
	// Tolerance is one unit per awarded collator.
	Tolerance uint64
}

// Result is the expected payout of a round.
type Result struct {
	Round                         uint32
	TotalRoundIssuance            *uint256.Int
	ParachainBondReward           *uint256.Int
	TotalStakingReward            *uint256.Int
	TotalCollatorCommissionReward *uint256.Int
	TotalBondReward               *uint256.Int

	// Collators holds every collator credited with points.
	Collators map[staking.AccountID]*CollatorPayout
	// Idle are snapshotted collators without points; they are never paid.
	Idle map[staking.AccountID]struct{}
	// CollatorCount counts every snapshotted collator, idle ones included.
	CollatorCount int

	Bound LossBound
}

// IsCollator reports whether id was snapshotted as a collator this round.
func (r *Result) IsCollator(id staking.AccountID) bool {
	if _, ok := r.Collators[id]; ok {
		return true
	}
	_, ok := r.Idle[id]
	return ok
}

// Compute derives the expected payout of a round.
func Compute(in Input) (*Result, error) {

	econ := in.Economics
	if econ.TotalIssuance == nil || econ.TotalStaked == nil {
		return nil, errors.Errorf("round %d economics are incomplete", econ.Round)
	}

	issuance, err := RoundIssuance(econ, in.Inflation)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Round:                         econ.Round,
		TotalRoundIssuance:            issuance,
		TotalCollatorCommissionReward: in.CommissionRate.Of(issuance),
		ParachainBondReward:           in.BondPercent.Of(issuance),
		Collators:                     make(map[staking.AccountID]*CollatorPayout),
		Idle:                          make(map[staking.AccountID]struct{}),
		CollatorCount:                 len(in.Snapshots),
	}

	res.TotalStakingReward = new(uint256.Int).Set(issuance)
	if in.BondTransferred {
		res.TotalStakingReward.Sub(issuance, res.ParachainBondReward)
	}

	if res.TotalCollatorCommissionReward.Gt(res.TotalStakingReward) {
		return nil, errors.Errorf("round %d commission %s exceeds staking reward %s", econ.Round,
			staking.FormatBalance(res.TotalCollatorCommissionReward), staking.FormatBalance(res.TotalStakingReward))
	}
	res.TotalBondReward = new(uint256.Int).Sub(res.TotalStakingReward, res.TotalCollatorCommissionReward)

	res.Bound = LossBound{Collators: make(map[staking.AccountID]CollatorBound)}

	var (
		shareSum   uint64
		pointsSeen uint64
		bondLoss   = new(uint256.Int)
	)
	for _, s := range in.Snapshots {

		if s.Points == 0 {
			res.Idle[s.Collator] = struct{}{}
			continue
		}
		if _, dup := res.Collators[s.Collator]; dup {
			return nil, errors.Errorf("round %d collator %s snapshotted twice", econ.Round, s.Collator.Hex())
		}

		cp := collatorPayout(s, econ.TotalPoints, res.TotalStakingReward, res.TotalCollatorCommissionReward)
		res.Collators[s.Collator] = cp
		res.Bound.Collators[s.Collator] = cp.Bound

		shareSum += cp.PointsShare.Parts()
		pointsSeen += uint64(s.Points)
		bondLoss.Add(bondLoss, cp.Collator.BondRewardLoss)
	}

	if pointsSeen > uint64(econ.TotalPoints) {
		return nil, &staking.InvariantViolation{
			Round:    econ.Round,
			Detail:   "awarded points exceed the round's total points",
			Expected: fmt.Sprintf("<= %d", econ.TotalPoints),
			Actual:   fmt.Sprintf("%d", pointsSeen),
		}
	}

	deficit := staking.PerbillFromParts(shareSum).Complement()
	res.Bound.ShareSum = staking.PerbillFromParts(shareSum)
	res.Bound.CommissionEstimated = deficit.Of(res.TotalCollatorCommissionReward)
	res.Bound.BondEstimated = new(uint256.Int).Add(deficit.Of(res.TotalBondReward), bondLoss)
	res.Bound.Tolerance = uint64(len(res.Collators))

	return res, nil
}

// RoundIssuance is the amount minted for the round.
func RoundIssuance(econ staking.RoundEconomics, inflation staking.InflationConfig) (*uint256.Int, error) {

	if econ.Mode == staking.IssuanceSlotScaled {
		if econ.Slots.IdealDuration == 0 {
			return nil, errors.Errorf("round %d ideal duration is zero", econ.Round)
		}
		ideal := inflation.Round.Ideal.Of(econ.TotalIssuance)
		v := new(uint256.Int).Mul(uint256.NewInt(econ.Slots.RoundDuration), ideal)
		return v.Div(v, uint256.NewInt(econ.Slots.IdealDuration)), nil
	}

	return Clamp(econ.TotalStaked, econ.TotalIssuance, inflation), nil
}

// Clamp picks the min, ideal or max round inflation by where total staked
// sits against the staking expectations, and applies it to total issuance.
func Clamp(staked, issuance *uint256.Int, inflation staking.InflationConfig) *uint256.Int {

	switch {
	case staked.Lt(inflation.Expect.Min):
		return inflation.Round.Min.Of(issuance)
	case staked.Gt(inflation.Expect.Max):
		return inflation.Round.Max.Of(issuance)
	default:
		return inflation.Round.Ideal.Of(issuance)
	}
}

func collatorPayout(s *staking.StakeSnapshot, totalPoints uint32, stakingReward, commissionReward *uint256.Int) *CollatorPayout {

	pointsShare := staking.PerbillFromRational(uint256.NewInt(uint64(s.Points)), uint256.NewInt(uint64(totalPoints)))
	gross := pointsShare.Of(stakingReward)
	commission := pointsShare.Of(commissionReward)
	bondReward := staking.SaturatingSub(gross, commission)

	cp := &CollatorPayout{
		PointsShare: pointsShare,
		Gross:       gross,
		Commission:  commission,
		BondReward:  bondReward,
		index:       make(map[staking.AccountID]int, len(s.Delegations)),
	}

	cp.Collator = ExpectedReward{
		Entity:           s.Collator,
		Role:             staking.RoleCollator,
		CommissionReward: commission,
		BondRewardLoss:   new(uint256.Int),
	}

	if len(s.Delegations) == 0 {
		cp.Collator.Total = new(uint256.Int).Set(gross)
		cp.Collator.BondReward = new(uint256.Int).Set(bondReward)
		cp.Collator.Share = staking.PerbillFromParts(staking.BILLION)
		cp.ShareSum = cp.Collator.Share
		cp.Bound = CollatorBound{Estimated: new(uint256.Int), Tolerance: 1}
		return cp
	}

	bondShare := staking.PerbillFromRational(s.Bond, s.Total)
	collatorBond := bondShare.Of(bondReward)
	cp.Collator.Share = bondShare
	cp.Collator.BondReward = collatorBond
	cp.Collator.Total = new(uint256.Int).Add(collatorBond, commission)

	var (
		shareSum = bondShare.Parts()
		paid     = new(uint256.Int).Set(collatorBond)
		rewarded uint64
	)
	for _, d := range s.Delegations {

		share := staking.PerbillFromRational(d.Amount, s.Total)
		reward := share.Of(bondReward)

		cp.index[d.Delegator] = len(cp.Delegators)
		cp.Delegators = append(cp.Delegators, DelegatorPayout{
			ExpectedReward: ExpectedReward{
				Entity:           d.Delegator,
				Role:             staking.RoleDelegator,
				Total:            reward,
				CommissionReward: new(uint256.Int),
				BondReward:       new(uint256.Int).Set(reward),
				BondRewardLoss:   new(uint256.Int),
				Share:            share,
			},
			Stake:        new(uint256.Int).Set(d.Amount),
			AutoCompound: d.AutoCompound,
		})

		if reward.IsZero() {
			continue
		}
		shareSum += share.Parts()
		paid.Add(paid, reward)
		rewarded++
	}

	cp.ShareSum = staking.PerbillFromParts(shareSum)
	cp.Collator.BondRewardLoss = staking.SaturatingSub(bondReward, paid)
	cp.Bound = CollatorBound{
		Estimated: cp.ShareSum.Complement().Of(bondReward),
		Tolerance: rewarded + 1,
	}

	return cp
}
