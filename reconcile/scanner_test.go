package reconcile_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardaudit/chain"
	"rewardaudit/chain/chaintest"
	"rewardaudit/reconcile"
	"rewardaudit/snapshot"
	"rewardaudit/staking"
)

var orbiter = common.HexToAddress("0x00000000000000000000000000000000000000ab")

func scenario() *chaintest.Scenario {
	return &chaintest.Scenario{
		SpecVersion:  2200,
		RoundLength:  10,
		RoundToPay:   10,
		PaymentDelay: 2,
		MaxTop:       300,
		Collators: []chaintest.Collator{
			{ID: collatorA, Bond: 1000, Points: 10, Delegations: []chaintest.Delegation{
				{Delegator: delegatorA, Amount: 3000, AutoCompound: 50},
			}},
			{ID: collatorB, Bond: 2000, Points: 90},
		},
		TotalIssuance: 1_000_000_000,
		TotalStaked:   500,
		ExpectMin:     100,
		ExpectMax:     1000,
		RoundMin:      1_000_000,
		RoundIdeal:    1_000_000,
		RoundMax:      1_000_000,
	}
}

func setup(t *testing.T, s *chaintest.Scenario) (*chaintest.Chain, *reconcile.Scanner, *snapshot.PaymentRounds) {

	c := chaintest.New(0)
	s.Install(c)

	loader := snapshot.NewLoader(c, snapshot.Options{})
	payment, err := loader.PaymentRounds(context.Background(), s.RoundToPay)
	require.NoError(t, err)

	return c, reconcile.NewScanner(loader, 2), payment
}

func TestWindow(t *testing.T) {
	assert.Equal(t, 3, reconcile.Window(100, 200, 3))
	assert.Equal(t, 2, reconcile.Window(100, 101, 3))
	assert.Equal(t, 1, reconcile.Window(100, 100, 3))
	assert.Zero(t, reconcile.Window(100, 99, 3))
	assert.Zero(t, reconcile.Window(100, 200, 0))
}

func TestScanCollectsWindow(t *testing.T) {

	s := scenario()
	c, scanner, payment := setup(t, s)
	first := s.FirstRewardBlock()

	c.Reward(first, collatorA, 25_000)
	c.Reward(first, delegatorA, 75_000)
	c.Compound(first, collatorA, delegatorA, 37_500)
	// Extrinsic-phase events are not payouts.
	c.AddEvents(first, chaintest.NewEvent(chain.PhaseApplyExtrinsic, chain.PALLET_STAKING, "Rewarded", stranger, "1"))
	c.Reward(first+1, collatorB, 900_000)
	c.Reward(first+2, stranger, 1)

	blocks, err := scanner.Scan(context.Background(), *payment, 2, first+10)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	b := blocks[0]
	assert.Equal(t, 0, b.Offset)
	assert.Equal(t, first, b.Number)
	require.Len(t, b.Rewards, 2)
	assert.Equal(t, collatorA, b.Rewards[0].Account)
	assert.Equal(t, uint64(25_000), b.Rewards[0].Amount.Uint64())
	assert.Equal(t, delegatorA, b.Rewards[1].Account)
	assert.Less(t, b.Rewards[0].Index, b.Rewards[1].Index)
	require.Len(t, b.Compounds, 1)
	assert.Equal(t, uint64(37_500), b.Compounds[0].Amount.Uint64())

	assert.Equal(t, 1, blocks[1].Offset)
	require.Len(t, blocks[1].Rewards, 1)
	assert.Equal(t, collatorB, blocks[1].Rewards[0].Account)
}

func TestScanStopsAtHead(t *testing.T) {

	s := scenario()
	_, scanner, payment := setup(t, s)

	blocks, err := scanner.Scan(context.Background(), *payment, 2, s.FirstRewardBlock())
	require.NoError(t, err)
	assert.Len(t, blocks, 1)
}

func TestScanAttributesOrbiterRewards(t *testing.T) {

	s := scenario()
	c, scanner, payment := setup(t, s)
	first := s.FirstRewardBlock()

	c.Orbiter(0, s.RoundToPay, collatorB, orbiter)
	c.OrbiterReward(first, orbiter, 900_000)

	b, err := scanner.ScanBlock(context.Background(), 0, first, payment.RewardRound.Runtime)
	require.NoError(t, err)

	require.Len(t, b.Rewards, 1)
	assert.Equal(t, collatorB, b.Rewards[0].Account)
	require.NotNil(t, b.Rewards[0].Orbiter)
	assert.Equal(t, orbiter, *b.Rewards[0].Orbiter)
}

func TestScanIgnoresOrbiterEventsOnOldRuntimes(t *testing.T) {

	s := scenario()
	c, scanner, _ := setup(t, s)
	first := s.FirstRewardBlock()

	c.OrbiterReward(first, orbiter, 900_000)

	b, err := scanner.ScanBlock(context.Background(), 0, first, staking.Runtime{SpecVersion: 1900})
	require.NoError(t, err)
	assert.Empty(t, b.Rewards)
}

func TestScanLoadsRevocations(t *testing.T) {

	s := scenario()
	c, scanner, payment := setup(t, s)
	first := s.FirstRewardBlock()

	c.Revoke(first-5, collatorA, delegatorA)

	b, err := scanner.ScanBlock(context.Background(), 0, first, payment.RewardRound.Runtime)
	require.NoError(t, err)
	assert.True(t, b.Revokes.Has(collatorA, delegatorA))
	assert.False(t, b.Revokes.Has(collatorB, delegatorA))
}

func TestScanRejectsUndecodableEvent(t *testing.T) {

	s := scenario()
	c, scanner, payment := setup(t, s)
	first := s.FirstRewardBlock()

	c.AddEvents(first, chaintest.NewEvent(chain.PhaseInitialization, chain.PALLET_STAKING, "Rewarded", "not-an-account", "1"))

	_, err := scanner.Scan(context.Background(), *payment, 2, first+10)
	var inv *staking.InvariantViolation
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, uint32(10), inv.Round)
}

func TestScanFailsClosed(t *testing.T) {

	s := scenario()
	c, scanner, payment := setup(t, s)

	c.FailNext(100)

	_, err := scanner.Scan(context.Background(), *payment, 2, s.FirstRewardBlock()+10)
	var u *snapshot.UnavailableError
	require.True(t, errors.As(err, &u))
	assert.True(t, errors.Is(err, chaintest.ErrInjected))
}
