package report_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardaudit/payout"
	"rewardaudit/report"
	"rewardaudit/staking"
)

var (
	collatorA = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	collatorB = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	collatorC = common.HexToAddress("0x00000000000000000000000000000000000000c3")

	current = staking.Runtime{SpecVersion: 2200}
	meta    = report.RoundMeta{Round: 10, RewardRound: 12, SpecVersion: 2200, FirstRewardBlock: 112}
)

func bal(v uint64) *uint256.Int {
	return staking.NewBalance(v)
}

// expected pays collator A 600_000 and B 400_000; C was snapshotted but idle.
func expected(t *testing.T) *payout.Result {

	snap := func(id common.Address, points uint32) *staking.StakeSnapshot {
		return &staking.StakeSnapshot{Round: 10, Collator: id, Bond: bal(1000), Total: bal(1000), Points: points}
	}

	res, err := payout.Compute(payout.Input{
		Economics: staking.RoundEconomics{
			Round:         10,
			TotalIssuance: bal(1_000_000_000),
			TotalStaked:   bal(500),
			TotalPoints:   100,
		},
		Inflation: staking.InflationConfig{
			Expect: staking.BalanceRange{Min: bal(100), Ideal: bal(500), Max: bal(1000)},
			Round: staking.PerbillRange{
				Min:   staking.PerbillFromParts(1_000_000),
				Ideal: staking.PerbillFromParts(1_000_000),
				Max:   staking.PerbillFromParts(1_000_000),
			},
		},
		Snapshots: []*staking.StakeSnapshot{snap(collatorA, 60), snap(collatorB, 40), snap(collatorC, 0)},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), res.TotalStakingReward.Uint64())

	return res
}

func paid(res *payout.Result, offset int, collator common.Address, amount uint64) *report.BlockOutcome {

	o := report.NewOutcome(offset, meta.FirstRewardBlock+uint64(offset))
	id := collator
	o.Collator = &id
	o.Total = bal(amount)

	if cp, ok := res.Collators[collator]; ok {
		o.SharePerbill = cp.PointsShare
		o.Commission = new(uint256.Int).Set(cp.Commission)
		o.BondLoss = new(uint256.Int).Set(cp.Collator.BondRewardLoss)
	}
	o.BondRewarded = staking.SaturatingSub(o.Total, o.Commission)

	return o
}

func skipped(offset int) *report.BlockOutcome {
	return report.NewOutcome(offset, meta.FirstRewardBlock+uint64(offset))
}

func aggregate(t *testing.T, runtime staking.Runtime, res *payout.Result, outcomes ...*report.BlockOutcome) *report.AuditReport {

	agg := report.NewAggregator(meta, runtime, res)
	for _, o := range outcomes {
		require.NoError(t, agg.Add(o))
	}

	return agg.Finalize()
}

func TestAggregatePasses(t *testing.T) {

	res := expected(t)
	r := aggregate(t, current, res,
		paid(res, 0, collatorA, 600_000),
		skipped(1),
		paid(res, 2, collatorB, 400_000),
	)

	assert.Equal(t, report.StatusPass, r.Status)
	assert.Empty(t, r.Findings)
	assert.Equal(t, 3, r.BlocksScanned)
	assert.Equal(t, 3, r.CollatorCount)
	assert.Equal(t, 2, r.AwardedCollators)
	assert.Equal(t, 1, r.SkippedRewardBlocks)
	assert.Equal(t, []string{collatorA.Hex(), collatorB.Hex()}, r.Collators.Rewarded)
	assert.Empty(t, r.Collators.NotRewarded)

	require.True(t, r.Losses.Checked)
	assert.Equal(t, "0", r.Losses.Bond.Actual.String())
	assert.Equal(t, "1000000", r.Totals.Rewarded.String())
}

func TestAggregateReportsMissingCollator(t *testing.T) {

	res := expected(t)
	r := aggregate(t, current, res,
		paid(res, 0, collatorA, 600_000),
		skipped(1),
		skipped(2),
	)

	assert.Equal(t, report.StatusFail, r.Status)
	assert.Equal(t, []string{collatorB.Hex()}, r.Collators.NotRewarded)
	require.Equal(t, 1, r.FindingsOf(report.KindMissingReward))
	assert.Zero(t, r.FindingsOf(report.KindRoundingBoundExceeded))
	assert.Zero(t, r.FindingsOf(report.KindSkippedBlocksMismatch))

	f := r.Findings[0]
	assert.Equal(t, collatorB.Hex(), f.Entity)
	assert.Equal(t, "400000", f.Expected)
	assert.Equal(t, "0", f.Actual)
	assert.Equal(t, "-400000", f.Diff)
}

func TestAggregateFlagsLossBeyondBound(t *testing.T) {

	res := expected(t)
	r := aggregate(t, current, res,
		paid(res, 0, collatorA, 600_000),
		skipped(1),
		paid(res, 2, collatorB, 399_990),
	)

	assert.Equal(t, report.StatusFail, r.Status)
	require.Equal(t, 1, r.FindingsOf(report.KindRoundingBoundExceeded))
	assert.True(t, r.Losses.Bond.Exceeded)
	assert.False(t, r.Losses.Commission.Exceeded)
	assert.Equal(t, "10", r.Losses.Bond.Actual.String())
	assert.Equal(t, uint64(2), r.Losses.Bond.Tolerance)
	assert.Zero(t, r.FindingsOf(report.KindTotalMismatch))
}

func TestAggregateAcceptsLossWithinBound(t *testing.T) {

	res := expected(t)
	r := aggregate(t, current, res,
		paid(res, 0, collatorA, 599_999),
		skipped(1),
		paid(res, 2, collatorB, 399_999),
	)

	assert.Equal(t, report.StatusPass, r.Status)
	assert.Equal(t, "2", r.Losses.Bond.Actual.String())
}

func TestAggregateFlagsOverpayment(t *testing.T) {

	res := expected(t)
	r := aggregate(t, current, res,
		paid(res, 0, collatorA, 600_001),
		skipped(1),
		paid(res, 2, collatorB, 400_000),
	)

	assert.Equal(t, report.StatusFail, r.Status)
	assert.Equal(t, 1, r.FindingsOf(report.KindTotalMismatch))
}

func TestAggregateSkipsLossChecksOnOldRuntimes(t *testing.T) {

	res := expected(t)
	r := aggregate(t, staking.Runtime{SpecVersion: 1700}, res,
		paid(res, 0, collatorA, 600_000),
		skipped(1),
		paid(res, 2, collatorB, 399_990),
	)

	assert.Equal(t, report.StatusPass, r.Status)
	assert.False(t, r.Losses.Checked)
	assert.Equal(t, "10", r.Losses.Bond.Actual.String())
}

func TestAggregateFlagsCollatorRewardedTwice(t *testing.T) {

	res := expected(t)
	r := aggregate(t, current, res,
		paid(res, 0, collatorA, 600_000),
		paid(res, 1, collatorA, 600_000),
		paid(res, 2, collatorB, 400_000),
	)

	assert.Equal(t, report.StatusFail, r.Status)
	assert.Equal(t, 1, r.FindingsOf(report.KindDuplicateEvent))
	assert.Equal(t, 1, r.FindingsOf(report.KindSkippedBlocksMismatch))
}

func TestAggregateCountsCollatorPaidInAnotherBlock(t *testing.T) {

	res := expected(t)
	o := paid(res, 0, collatorA, 600_000)
	o.AlsoRewarded = []staking.AccountID{collatorB}
	o.Total.Add(o.Total, bal(400_000))
	o.BondRewarded.Add(o.BondRewarded, bal(400_000))

	r := aggregate(t, current, res, o, skipped(1))

	assert.Equal(t, []string{collatorA.Hex(), collatorB.Hex()}, r.Collators.Rewarded)
	assert.Empty(t, r.Collators.NotRewarded)
	assert.Zero(t, r.FindingsOf(report.KindMissingReward))
	assert.Zero(t, r.FindingsOf(report.KindSkippedBlocksMismatch))
	assert.Equal(t, "0", r.Losses.Bond.Actual.String())

	// Paying B again in its own block is a duplicate.
	r = aggregate(t, current, res, paid(res, 0, collatorA, 600_000), paid(res, 1, collatorB, 400_000), o)
	assert.Equal(t, 2, r.FindingsOf(report.KindDuplicateEvent))
}

func TestAggregateListsUnexpectedCollator(t *testing.T) {

	res := expected(t)
	r := aggregate(t, current, res,
		paid(res, 0, collatorA, 600_000),
		paid(res, 1, collatorC, 5),
		paid(res, 2, collatorB, 400_000),
	)

	assert.Equal(t, []string{collatorC.Hex()}, r.Collators.UnexpectedlyRewarded)
	assert.Equal(t, report.StatusFail, r.Status)
}

func TestAggregatorIsSealedByFinalize(t *testing.T) {

	res := expected(t)
	agg := report.NewAggregator(meta, current, res)
	require.NoError(t, agg.Add(paid(res, 0, collatorA, 600_000)))

	first := agg.Finalize()
	assert.Same(t, first, agg.Finalize())
	assert.True(t, errors.Is(agg.Add(skipped(1)), report.ErrFinalized))
	assert.True(t, errors.Is(agg.AddFinding(report.Finding{Kind: report.KindStakingRewardMismatch}), report.ErrFinalized))
}

func TestAddFindingFailsRound(t *testing.T) {

	res := expected(t)
	agg := report.NewAggregator(meta, current, res)
	require.NoError(t, agg.AddFinding(report.Finding{
		Kind:     report.KindStakingRewardMismatch,
		Detail:   "total staking reward",
		Expected: "1000000",
		Actual:   "999999",
	}))
	require.NoError(t, agg.Add(paid(res, 0, collatorA, 600_000)))
	require.NoError(t, agg.Add(skipped(1)))
	require.NoError(t, agg.Add(paid(res, 2, collatorB, 400_000)))

	r := agg.Finalize()
	assert.Equal(t, report.StatusFail, r.Status)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, uint32(10), r.Findings[0].Round)
}

func TestDigestIsStable(t *testing.T) {

	res := expected(t)
	build := func(second uint64) *report.AuditReport {
		// Feed blocks out of order; the report must not depend on it.
		return aggregate(t, current, res,
			paid(res, 2, collatorB, second),
			skipped(1),
			paid(res, 0, collatorA, 600_000),
		)
	}

	a, err := build(400_000).Digest()
	require.NoError(t, err)
	b, err := build(400_000).Digest()
	require.NoError(t, err)
	c, err := build(399_999).Digest()
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 66)
}

func TestIncompleteReports(t *testing.T) {

	u := report.Unavailable(meta, errors.New("read AtStake: connection refused"))
	assert.Equal(t, report.StatusSnapshotUnavailable, u.Status)
	assert.True(t, u.Status.Incomplete())
	assert.Empty(t, u.Severe())
	assert.Equal(t, 1, u.FindingsOf(report.KindSnapshotUnavailable))

	n := report.NotAudited(meta, "deadline exceeded")
	assert.Equal(t, report.StatusNotAudited, n.Status)
	assert.Equal(t, "deadline exceeded", n.Reason)

	v := report.Invariant(meta, &staking.InvariantViolation{
		Round:    10,
		Collator: collatorA,
		Detail:   "snapshot total does not equal bond plus counted delegations",
		Expected: "4000",
		Actual:   "4001",
	})
	assert.Equal(t, report.StatusFail, v.Status)
	require.Len(t, v.Findings, 1)
	assert.Equal(t, report.KindSnapshotInvariantViolation, v.Findings[0].Kind)
	assert.Equal(t, collatorA.Hex(), v.Findings[0].Entity)
	assert.Contains(t, v.Findings[0].String(), "expected 4000, actual 4001")
}
