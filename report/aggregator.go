package report

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"rewardaudit/payout"
	"rewardaudit/staking"
)

var ErrFinalized = errors.New("report is already finalized")

// Aggregator folds the outcomes of a round's reward blocks, in any order,
// into its AuditReport. It is not safe for concurrent use.
type Aggregator struct {
	meta    RoundMeta
	runtime staking.Runtime
	result  *payout.Result

	blocks   int
	skipped  int
	rewarded map[staking.AccountID]uint64
	shareSum uint64

	total      *uint256.Int
	commission *uint256.Int
	bond       *uint256.Int
	bondLoss   *uint256.Int

	delegators DelegatorSets
	findings   []Finding

	report *AuditReport
}

func NewAggregator(meta RoundMeta, runtime staking.Runtime, result *payout.Result) *Aggregator {
	return &Aggregator{
		meta:       meta,
		runtime:    runtime,
		result:     result,
		rewarded:   make(map[staking.AccountID]uint64),
		total:      new(uint256.Int),
		commission: new(uint256.Int),
		bond:       new(uint256.Int),
		bondLoss:   new(uint256.Int),
	}
}

// AddFinding records a round-level finding that no block produced.
func (a *Aggregator) AddFinding(f Finding) error {

	if a.report != nil {
		return ErrFinalized
	}
	f.Round = a.meta.Round
	a.findings = append(a.findings, f)

	return nil
}

// Add folds in the outcome of one reward block.
func (a *Aggregator) Add(o *BlockOutcome) error {

	if a.report != nil {
		return ErrFinalized
	}

	a.blocks++
	a.findings = append(a.findings, o.Findings...)
	a.total.Add(a.total, o.Total)
	a.commission.Add(a.commission, o.Commission)
	a.bond.Add(a.bond, o.BondRewarded)

	if o.Skipped() {
		a.skipped++
		return nil
	}

	for _, id := range o.AlsoRewarded {
		if !a.markRewarded(id, o.Block) {
			continue
		}
		if cp, ok := a.result.Collators[id]; ok {
			a.shareSum += cp.PointsShare.Parts()
			a.bondLoss.Add(a.bondLoss, cp.Collator.BondRewardLoss)
		}
	}

	collator := *o.Collator
	if !a.markRewarded(collator, o.Block) {
		return nil
	}
	a.shareSum += o.SharePerbill.Parts()
	a.bondLoss.Add(a.bondLoss, o.BondLoss)

	d := &a.delegators
	d.Rewarded = appendDelegations(d.Rewarded, collator, o.Delegators.Matched)
	d.NotRewarded = appendDelegations(d.NotRewarded, collator, o.Delegators.Missing)
	d.UnexpectedlyRewarded = appendDelegations(d.UnexpectedlyRewarded, collator, o.Delegators.Unexpected)
	d.Compounded = appendDelegations(d.Compounded, collator, o.Compounds.Matched)
	d.NotCompounded = appendDelegations(d.NotCompounded, collator, o.Compounds.Missing)
	d.UnexpectedlyCompounded = appendDelegations(d.UnexpectedlyCompounded, collator, o.Compounds.Unexpected)

	return nil
}

// markRewarded records the collator as paid at block. A collator already paid
// earlier in the round gets a DuplicateEvent and false.
func (a *Aggregator) markRewarded(collator staking.AccountID, block uint64) bool {

	if first, dup := a.rewarded[collator]; dup {
		a.findings = append(a.findings, Finding{
			Kind:     KindDuplicateEvent,
			Round:    a.meta.Round,
			Block:    block,
			Entity:   collator.Hex(),
			Role:     staking.RoleCollator,
			Collator: collator.Hex(),
			Detail:   fmt.Sprintf("collator already rewarded at block %d", first),
		})
		return false
	}
	a.rewarded[collator] = block

	return true
}

// Finalize runs the round-level checks and returns the report. Later calls
// return the same report.
func (a *Aggregator) Finalize() *AuditReport {

	if a.report != nil {
		return a.report
	}

	res := a.result
	r := &AuditReport{
		RoundMeta:           a.meta,
		BlocksScanned:       a.blocks,
		CollatorCount:       res.CollatorCount,
		AwardedCollators:    len(res.Collators),
		SkippedRewardBlocks: a.skipped,
		Totals: &Totals{
			RoundIssuance:       staking.AmountOf(res.TotalRoundIssuance),
			ParachainBondReward: staking.AmountOf(res.ParachainBondReward),
			StakingReward:       staking.AmountOf(res.TotalStakingReward),
			CollatorCommission:  staking.AmountOf(res.TotalCollatorCommissionReward),
			BondReward:          staking.AmountOf(res.TotalBondReward),
			Rewarded:            staking.AmountOf(a.total),
			CommissionRewarded:  staking.AmountOf(a.commission),
			BondRewarded:        staking.AmountOf(a.bond),
		},
	}

	r.Collators = a.collatorSets()
	r.Losses = a.checkLosses()

	if want := res.CollatorCount - len(a.rewarded); a.skipped != want {
		a.findings = append(a.findings, Finding{
			Kind:     KindSkippedBlocksMismatch,
			Round:    a.meta.Round,
			Detail:   "reward blocks without a collator do not match the collators left unpaid",
			Expected: fmt.Sprintf("%d", want),
			Actual:   fmt.Sprintf("%d", a.skipped),
		})
	}

	d := a.delegators
	for _, set := range []*[]Delegation{&d.Rewarded, &d.NotRewarded, &d.UnexpectedlyRewarded,
		&d.Compounded, &d.NotCompounded, &d.UnexpectedlyCompounded} {
		*set = sortDelegations(*set)
	}
	r.Delegators = &d

	sortFindings(a.findings)
	r.Findings = append([]Finding{}, a.findings...)

	r.Status = StatusPass
	if len(r.Severe()) > 0 {
		r.Status = StatusFail
	}

	a.report = r
	return r
}

// collatorSets diffs the collators that were paid against those awarded
// points, reporting every awarded collator that never got paid.
func (a *Aggregator) collatorSets() *CollatorSets {

	sets := &CollatorSets{
		Rewarded:             []string{},
		NotRewarded:          []string{},
		UnexpectedlyRewarded: []string{},
	}

	expected := make([]staking.AccountID, 0, len(a.result.Collators))
	for id := range a.result.Collators {
		expected = append(expected, id)
	}
	staking.SortAccounts(expected)

	for _, id := range expected {
		if _, ok := a.rewarded[id]; ok {
			sets.Rewarded = append(sets.Rewarded, id.Hex())
			continue
		}
		sets.NotRewarded = append(sets.NotRewarded, id.Hex())
		a.findings = append(a.findings, Finding{
			Kind:     KindMissingReward,
			Round:    a.meta.Round,
			Entity:   id.Hex(),
			Role:     staking.RoleCollator,
			Collator: id.Hex(),
			Detail:   "awarded collator was never rewarded",
		}.WithAmounts(a.result.Collators[id].Collator.Total, new(uint256.Int)))
	}

	unexpected := make([]staking.AccountID, 0)
	for id := range a.rewarded {
		if _, ok := a.result.Collators[id]; !ok {
			unexpected = append(unexpected, id)
		}
	}
	staking.SortAccounts(unexpected)
	for _, id := range unexpected {
		sets.UnexpectedlyRewarded = append(sets.UnexpectedlyRewarded, id.Hex())
	}

	return sets
}

// checkLosses compares the realized rounding losses with the estimate over
// the collators actually paid, one unit of tolerance per awarded collator.
// The sum of rewards plus both losses must equal the staking reward.
func (a *Aggregator) checkLosses() *Losses {

	res := a.result
	deficit := staking.PerbillFromParts(a.shareSum).Complement()
	tolerance := res.Bound.Tolerance

	commission := LossCheck{
		Theoretical: staking.AmountOf(res.Bound.CommissionEstimated),
		Estimated:   staking.AmountOf(deficit.Of(res.TotalCollatorCommissionReward)),
		Actual:      staking.AmountOf(staking.SaturatingSub(res.TotalCollatorCommissionReward, a.commission)),
		Tolerance:   tolerance,
	}

	bondEstimated := deficit.Of(res.TotalBondReward)
	bondEstimated.Add(bondEstimated, a.bondLoss)
	bond := LossCheck{
		Theoretical: staking.AmountOf(res.Bound.BondEstimated),
		Estimated:   staking.AmountOf(bondEstimated),
		Actual:      staking.AmountOf(staking.SaturatingSub(res.TotalBondReward, a.bond)),
		Tolerance:   tolerance,
	}

	losses := &Losses{Checked: a.runtime.HasLossChecks()}
	if !losses.Checked {
		losses.Commission, losses.Bond = commission, bond
		return losses
	}

	for _, c := range []struct {
		name  string
		check *LossCheck
	}{{"commission", &commission}, {"bond", &bond}} {

		limit := c.check.Estimated.Int()
		limit.Add(limit, uint256.NewInt(c.check.Tolerance))
		if !c.check.Actual.Int().Gt(limit) {
			continue
		}
		c.check.Exceeded = true
		a.findings = append(a.findings, Finding{
			Kind:   KindRoundingBoundExceeded,
			Round:  a.meta.Round,
			Entity: c.name,
			Detail: fmt.Sprintf("total %s rounding loss exceeds estimate plus %d", c.name, c.check.Tolerance),
		}.WithAmounts(limit, c.check.Actual.Int()))
	}
	losses.Commission, losses.Bond = commission, bond

	accounted := new(uint256.Int).Add(a.total, losses.Commission.Actual.Int())
	accounted.Add(accounted, losses.Bond.Actual.Int())
	if !accounted.Eq(res.TotalStakingReward) {
		a.findings = append(a.findings, Finding{
			Kind:   KindTotalMismatch,
			Round:  a.meta.Round,
			Detail: "rewards plus rounding losses do not add up to the staking reward",
		}.WithAmounts(res.TotalStakingReward, accounted))
	}

	return losses
}

func appendDelegations(out []Delegation, collator staking.AccountID, delegators []staking.AccountID) []Delegation {
	for _, d := range delegators {
		out = append(out, Delegation{Collator: collator.Hex(), Delegator: d.Hex()})
	}
	return out
}

func sortDelegations(set []Delegation) []Delegation {

	if set == nil {
		return []Delegation{}
	}
	sort.Slice(set, func(i, j int) bool {
		if set[i].Collator != set[j].Collator {
			return set[i].Collator < set[j].Collator
		}
		return set[i].Delegator < set[j].Delegator
	})

	return set
}
