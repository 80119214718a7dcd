package reconcile

import (
	"fmt"

	"github.com/holiman/uint256"

	"rewardaudit/payout"
	"rewardaudit/report"
	"rewardaudit/staking"
)

type MatchOptions struct {
	Round   uint32
	Runtime staking.Runtime
	// Tolerance is the absolute difference accepted on each reward.
	Tolerance uint64
}

type matcher struct {
	opts  MatchOptions
	block *RewardBlock
	out   *report.BlockOutcome

	collator *staking.AccountID
	payout   *payout.CollatorPayout
	// other is the bond reward paid to collators other than the block's.
	other *uint256.Int
}

// Match reconciles one reward block against the expected payout. Events are
// interpreted in emission order: the collator's reward comes first and
// attributes the delegator rewards that follow it.
func Match(res *payout.Result, b *RewardBlock, opts MatchOptions) *report.BlockOutcome {

	m := &matcher{
		opts:  opts,
		block: b,
		out:   report.NewOutcome(b.Offset, b.Number),
		other: new(uint256.Int),
	}

	seen := make(map[staking.AccountID]int, len(b.Rewards))
	paid := make(map[staking.AccountID]bool, len(b.Rewards))

	for _, ev := range b.Rewards {

		m.out.Total.Add(m.out.Total, ev.Amount)

		if first, dup := seen[ev.Account]; dup {
			m.out.BondRewarded.Add(m.out.BondRewarded, ev.Amount)
			m.finding(report.KindDuplicateEvent, ev.Account, m.roleOf(res, ev.Account),
				fmt.Sprintf("rewarded again, first by event %d", first))
			continue
		}
		seen[ev.Account] = ev.Index

		if res.IsCollator(ev.Account) {
			m.collatorReward(res, ev)
			continue
		}

		if ev.Orbiter != nil {
			m.out.BondRewarded.Add(m.out.BondRewarded, ev.Amount)
			m.other.Add(m.other, ev.Amount)
			f := m.finding(report.KindUnexpectedReward, ev.Account, staking.RoleCollator,
				"orbiter "+ev.Orbiter.Hex()+" rewarded for no snapshotted collator")
			m.amounts(f, new(uint256.Int), ev.Amount)
			continue
		}

		if m.delegatorReward(ev) {
			paid[ev.Account] = true
		}
	}

	if m.payout != nil {
		m.missingDelegators(paid)
		m.checkLoss()
	}

	if m.opts.Runtime.HasAutoCompound() {
		m.compounds()
	}

	for _, set := range [][]staking.AccountID{m.out.Delegators.Matched, m.out.Delegators.Missing,
		m.out.Delegators.Unexpected, m.out.Compounds.Matched, m.out.Compounds.Missing, m.out.Compounds.Unexpected} {
		staking.SortAccounts(set)
	}

	return m.out
}

func (m *matcher) collatorReward(res *payout.Result, ev RewardEvent) {

	if m.collator != nil {
		m.otherCollator(res, ev)
		return
	}

	id := ev.Account
	m.collator = &id
	m.out.Collator = &id

	cp, ok := res.Collators[id]
	if !ok {
		m.out.BondRewarded.Add(m.out.BondRewarded, ev.Amount)
		f := m.finding(report.KindUnexpectedReward, id, staking.RoleCollator, "collator was awarded no points")
		m.amounts(f, new(uint256.Int), ev.Amount)
		return
	}
	m.payout = cp

	m.out.SharePerbill = cp.PointsShare
	m.out.BondLoss = new(uint256.Int).Set(cp.Collator.BondRewardLoss)

	m.out.Commission = new(uint256.Int).Set(cp.Commission)
	if ev.Amount.Lt(cp.Commission) {
		m.out.Commission.Set(ev.Amount)
	}
	m.out.BondRewarded.Add(m.out.BondRewarded, staking.SaturatingSub(ev.Amount, m.out.Commission))

	m.compare(id, staking.RoleCollator, cp.Collator.Total, ev)
}

// otherCollator books a collator rewarded after the block's collator. An
// awarded one is listed in AlsoRewarded with its share of the commission.
func (m *matcher) otherCollator(res *payout.Result, ev RewardEvent) {

	f := m.finding(report.KindUnexpectedReward, ev.Account, staking.RoleCollator,
		fmt.Sprintf("second collator rewarded in the block after %s", m.collator.Hex()))

	cp, ok := res.Collators[ev.Account]
	if !ok {
		m.out.BondRewarded.Add(m.out.BondRewarded, ev.Amount)
		m.other.Add(m.other, ev.Amount)
		m.amounts(f, new(uint256.Int), ev.Amount)
		return
	}

	commission := new(uint256.Int).Set(cp.Commission)
	if ev.Amount.Lt(commission) {
		commission.Set(ev.Amount)
	}
	bond := staking.SaturatingSub(ev.Amount, commission)

	m.out.Commission.Add(m.out.Commission, commission)
	m.out.BondRewarded.Add(m.out.BondRewarded, bond)
	m.other.Add(m.other, bond)
	m.out.AlsoRewarded = append(m.out.AlsoRewarded, ev.Account)

	m.amounts(f, cp.Collator.Total, ev.Amount)
}

// delegatorReward reconciles a reward paid to a non-collator and reports
// whether it counts as a delegator paid under the block's collator.
func (m *matcher) delegatorReward(ev RewardEvent) bool {

	m.out.BondRewarded.Add(m.out.BondRewarded, ev.Amount)

	if m.collator == nil {
		f := m.finding(report.KindOrderingViolation, ev.Account, staking.RoleDelegator,
			"delegator rewarded before any collator")
		m.amounts(f, new(uint256.Int), ev.Amount)
		return false
	}

	// Zero rewards are emitted for dust delegations and never checked.
	if ev.Amount.IsZero() {
		return false
	}

	if m.payout == nil {
		m.out.Delegators.Unexpected = append(m.out.Delegators.Unexpected, ev.Account)
		f := m.finding(report.KindUnexpectedReward, ev.Account, staking.RoleDelegator, "collator is not owed a reward")
		m.amounts(f, new(uint256.Int), ev.Amount)
		return true
	}

	d, ok := m.payout.Delegator(ev.Account)
	if !ok || d.Total.IsZero() {
		m.out.Delegators.Unexpected = append(m.out.Delegators.Unexpected, ev.Account)
		f := m.finding(report.KindUnexpectedReward, ev.Account, staking.RoleDelegator, "not a rewarded delegation of the collator")
		m.amounts(f, new(uint256.Int), ev.Amount)
		return true
	}

	m.out.Delegators.Matched = append(m.out.Delegators.Matched, ev.Account)
	m.compare(ev.Account, staking.RoleDelegator, d.Total, ev)

	return true
}

func (m *matcher) missingDelegators(paid map[staking.AccountID]bool) {

	for _, id := range m.payout.Rewarded() {
		if paid[id] {
			continue
		}
		d, _ := m.payout.Delegator(id)
		m.out.Delegators.Missing = append(m.out.Delegators.Missing, id)
		f := m.finding(report.KindMissingReward, id, staking.RoleDelegator, "")
		m.amounts(f, d.Total, new(uint256.Int))
	}
}

// checkLoss bounds the part of the collator's bond reward that was not paid out.
func (m *matcher) checkLoss() {

	if !m.opts.Runtime.HasLossChecks() {
		return
	}

	realized := staking.SaturatingSub(m.payout.BondReward, staking.SaturatingSub(m.out.BondRewarded, m.other))
	limit := m.payout.Bound.Max()
	if !realized.Gt(limit) {
		return
	}

	f := m.finding(report.KindRoundingBoundExceeded, *m.collator, staking.RoleCollator,
		fmt.Sprintf("bond reward loss exceeds estimate plus %d", m.payout.Bound.Tolerance))
	m.amounts(f, limit, realized)
}

func (m *matcher) compounds() {

	var expected map[staking.AccountID]*uint256.Int
	if m.payout != nil {
		expected = payout.ExpectedCompounds(m.payout, m.block.Revokes)
	}

	seen := make(map[staking.AccountID]bool, len(m.block.Compounds))
	for _, c := range m.block.Compounds {

		if seen[c.Delegator] {
			m.finding(report.KindDuplicateEvent, c.Delegator, staking.RoleDelegator, "compounded again")
			continue
		}
		seen[c.Delegator] = true

		if m.collator == nil || c.Candidate != *m.collator {
			m.out.Compounds.Unexpected = append(m.out.Compounds.Unexpected, c.Delegator)
			f := m.finding(report.KindUnexpectedCompound, c.Delegator, staking.RoleDelegator,
				fmt.Sprintf("compounded into %s, not the block's collator", c.Candidate.Hex()))
			m.amounts(f, new(uint256.Int), c.Amount)
			continue
		}

		want, ok := expected[c.Delegator]
		if !ok {
			m.out.Compounds.Unexpected = append(m.out.Compounds.Unexpected, c.Delegator)
			f := m.finding(report.KindUnexpectedCompound, c.Delegator, staking.RoleDelegator, "")
			m.amounts(f, new(uint256.Int), c.Amount)
			continue
		}

		m.out.Compounds.Matched = append(m.out.Compounds.Matched, c.Delegator)
		if !c.Amount.Eq(want) {
			f := m.finding(report.KindCompoundMismatch, c.Delegator, staking.RoleDelegator, "")
			m.amounts(f, want, c.Amount)
		}
	}

	missing := make([]staking.AccountID, 0, len(expected))
	for id := range expected {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	staking.SortAccounts(missing)

	for _, id := range missing {
		m.out.Compounds.Missing = append(m.out.Compounds.Missing, id)
		f := m.finding(report.KindMissingCompound, id, staking.RoleDelegator, "")
		m.amounts(f, expected[id], new(uint256.Int))
	}
}

// compare records a RewardMismatch when actual is off by more than the tolerance.
func (m *matcher) compare(id staking.AccountID, role staking.Role, expected *uint256.Int, ev RewardEvent) {

	diff, _ := staking.AbsDiff(ev.Amount, expected)
	if !diff.Gt(uint256.NewInt(m.opts.Tolerance)) {
		return
	}

	detail := ""
	if ev.Orbiter != nil {
		detail = "paid through orbiter " + ev.Orbiter.Hex()
	}
	f := m.finding(report.KindRewardMismatch, id, role, detail)
	m.amounts(f, expected, ev.Amount)
}

func (m *matcher) roleOf(res *payout.Result, id staking.AccountID) staking.Role {
	if res.IsCollator(id) {
		return staking.RoleCollator
	}
	return staking.RoleDelegator
}

// finding appends a finding for the block and returns its index.
func (m *matcher) finding(kind report.Kind, entity staking.AccountID, role staking.Role, detail string) int {

	f := report.Finding{
		Kind:   kind,
		Round:  m.opts.Round,
		Block:  m.block.Number,
		Entity: entity.Hex(),
		Role:   role,
		Detail: detail,
	}
	if m.collator != nil {
		f.Collator = m.collator.Hex()
	}

	m.out.Findings = append(m.out.Findings, f)
	return len(m.out.Findings) - 1
}

func (m *matcher) amounts(i int, expected, actual *uint256.Int) {
	m.out.Findings[i] = m.out.Findings[i].WithAmounts(expected, actual)
}
