package chaintest

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"rewardaudit/chain"
)

// Delegation is one counted delegation of a fixture collator.
type Delegation struct {
	Delegator    common.Address
	Amount       uint64
	AutoCompound uint8
}

// Collator is a fixture collator snapshot.
type Collator struct {
	ID          common.Address
	Bond        uint64
	Points      uint32
	Delegations []Delegation
	// NotInTop names delegators left out of the top delegations record.
	NotInTop []common.Address
}

func (c Collator) Total() uint64 {
	total := c.Bond
	for _, d := range c.Delegations {
		total += d.Amount
	}
	return total
}

// Scenario lays out contiguous equal-length rounds starting at block 1 and
// the staking state one round's payout reads.
type Scenario struct {
	SpecVersion  uint32
	RoundLength  uint32
	RoundToPay   uint32
	PaymentDelay uint32
	MaxTop       int

	Collators []Collator

	CommissionParts uint64
	BondPercent     uint8
	// BondReserved is the amount of the bond reserve event; zero emits none.
	BondReserved uint64
	// LegacyBondInfo stores the bond percent in the older storage item.
	LegacyBondInfo bool

	TotalIssuance uint64
	TotalStaked   uint64
	ExpectMin     uint64
	ExpectMax     uint64
	RoundMin      uint64
	RoundIdeal    uint64
	RoundMax      uint64

	// DelayedStakingReward is recorded as the chain's own total; nil stores no record.
	DelayedStakingReward *uint64
}

func (s *Scenario) RoundFirst(round uint32) uint64 {
	return 1 + uint64(round-1)*uint64(s.RoundLength)
}

func (s *Scenario) RewardRound() uint32 {
	return s.RoundToPay + s.PaymentDelay
}

func (s *Scenario) FirstRewardBlock() uint64 {
	first := s.RoundFirst(s.RewardRound())
	if s.SpecVersion >= 2100 {
		first++
	}
	return first
}

func amount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// Install writes the scenario into c and moves the head past the payout window.
func (s *Scenario) Install(c *Chain) {

	last := s.RewardRound() + 2
	for r := uint32(1); r <= last; r++ {
		c.SetValue(s.RoundFirst(r), chain.Round, map[string]interface{}{
			"current": r, "first": s.RoundFirst(r), "length": s.RoundLength, "firstSlot": 0,
		})
	}
	c.SetHead(s.RoundFirst(last) + uint64(s.RoundLength) - 1)

	c.SetValue(0, chain.LastRuntimeUpgrade, map[string]interface{}{"specVersion": s.SpecVersion, "specName": "fixture"})
	c.SetValue(0, chain.RewardPaymentDelay, s.PaymentDelay)
	c.SetValue(0, chain.MaxTopDelegationsPerCandidate, s.MaxTop)

	var (
		rewardPrior = s.RoundFirst(s.RewardRound()) - 1
		payoutFirst = s.RoundFirst(s.RoundToPay + 1)
	)

	var atStake, awarded []chain.Entry
	var totalPoints uint32
	for _, col := range s.Collators {

		delegations := make([]map[string]interface{}, 0, len(col.Delegations))
		top := make([]map[string]interface{}, 0, len(col.Delegations))
		for _, d := range col.Delegations {
			delegations = append(delegations, map[string]interface{}{
				"owner": d.Delegator, "amount": amount(d.Amount), "autoCompound": d.AutoCompound,
			})
			if !contains(col.NotInTop, d.Delegator) {
				top = append(top, map[string]interface{}{"owner": d.Delegator, "amount": amount(d.Amount)})
			}
		}

		atStake = append(atStake, NewEntry(map[string]interface{}{
			"bond": amount(col.Bond), "total": amount(col.Total()), "delegations": delegations,
		}, s.RoundToPay, col.ID))

		if col.Points > 0 {
			awarded = append(awarded, NewEntry(col.Points, s.RoundToPay, col.ID))
			totalPoints += col.Points
		}

		c.SetValue(0, chain.TopDelegations, map[string]interface{}{
			"delegations": top, "total": "0",
		}, col.ID)
	}

	c.SetEntries(rewardPrior, chain.AtStake, atStake, s.RoundToPay)
	c.SetEntries(rewardPrior, chain.AwardedPts, awarded, s.RoundToPay)
	c.SetValue(rewardPrior, chain.Points, totalPoints, s.RoundToPay)
	c.SetValue(0, chain.CollatorCommission, s.CommissionParts)

	bond := map[string]interface{}{"account": common.Address{0xbb}, "percent": s.BondPercent}
	if s.LegacyBondInfo {
		c.SetValue(0, chain.ParachainBondInfo, bond)
	} else {
		c.SetValue(0, chain.InflationDistributionInfo, []interface{}{
			bond, map[string]interface{}{"account": common.Address{0xcc}, "percent": 0},
		})
	}

	c.SetValue(0, chain.TotalIssuance, amount(s.TotalIssuance))
	c.SetValue(0, chain.Staked, amount(s.TotalStaked), s.RoundToPay)
	c.SetValue(0, chain.InflationConfig, map[string]interface{}{
		"expect": map[string]string{"min": amount(s.ExpectMin), "ideal": amount(s.ExpectMin), "max": amount(s.ExpectMax)},
		"annual": map[string]uint64{"min": s.RoundMin, "ideal": s.RoundIdeal, "max": s.RoundMax},
		"round":  map[string]uint64{"min": s.RoundMin, "ideal": s.RoundIdeal, "max": s.RoundMax},
	})

	if s.BondReserved > 0 {
		c.AddEvents(payoutFirst, NewEvent(chain.PhaseInitialization, chain.PALLET_STAKING,
			"ReservedForParachainBond", common.Address{0xbb}, amount(s.BondReserved)))
	}

	if s.DelayedStakingReward != nil {
		c.SetValue(0, chain.DelayedPayouts, map[string]interface{}{
			"roundIssuance":      "0",
			"totalStakingReward": amount(*s.DelayedStakingReward),
			"collatorCommission": s.CommissionParts,
		}, s.RoundToPay)
	}
}

// Reward emits a Rewarded event at block.
func (c *Chain) Reward(block uint64, account common.Address, value uint64) {
	c.AddEvents(block, NewEvent(chain.PhaseInitialization, chain.PALLET_STAKING, "Rewarded", account, amount(value)))
}

// Compound emits a Compounded event at block.
func (c *Chain) Compound(block uint64, candidate, delegator common.Address, value uint64) {
	c.AddEvents(block, NewEvent(chain.PhaseInitialization, chain.PALLET_STAKING, "Compounded", candidate, delegator, amount(value)))
}

// Revoke replaces the scheduled requests from block on with a single revoke
// by delegator against candidate.
func (c *Chain) Revoke(from uint64, candidate, delegator common.Address) {
	c.SetEntries(from, chain.DelegationScheduledRequests, []chain.Entry{
		NewEntry([]map[string]interface{}{{
			"delegator": delegator, "whenExecutable": 99, "action": map[string]string{"revoke": "1"},
		}}, candidate),
	})
}

func contains(ids []common.Address, id common.Address) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Orbiter maps orbiter to collator for round, from block on.
func (c *Chain) Orbiter(from uint64, round uint32, collator, orbiter common.Address) {
	c.SetEntries(from, chain.OrbiterPerRound, []chain.Entry{NewEntry(orbiter, round, collator)}, round)
}

// OrbiterReward emits an OrbiterRewarded event at block.
func (c *Chain) OrbiterReward(block uint64, orbiter common.Address, value uint64) {
	c.AddEvents(block, NewEvent(chain.PhaseInitialization, chain.PALLET_ORBITERS, "OrbiterRewarded", orbiter, amount(value)))
}
