package staking

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AccountID is a 20-byte account, collators and delegators alike.
type AccountID = common.Address

// AccountLess orders accounts by their byte value.
func AccountLess(a, b AccountID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// SortAccounts orders ids by their byte value so that reports are stable.
func SortAccounts(ids []AccountID) {
	sort.Slice(ids, func(i, j int) bool {
		return AccountLess(ids[i], ids[j])
	})
}

// RoundInfo mirrors the chain's round record at a given block.
type RoundInfo struct {
	Current   uint32 `json:"current"`
	First     uint64 `json:"first"`
	Length    uint32 `json:"length"`
	FirstSlot uint64 `json:"firstSlot"`
}

// Next returns the first block of the following round.
func (r RoundInfo) Next() uint64 {
	return r.First + uint64(r.Length)
}

// DelegationEntry is one counted (top) delegation in a collator snapshot.
type DelegationEntry struct {
	Delegator    AccountID
	Amount       *uint256.Int
	AutoCompound Percent
}

// StakeSnapshot is the stake composition of one collator as of round start,
// plus the points it was credited by round end.
type StakeSnapshot struct {
	Round       uint32
	Collator    AccountID
	Bond        *uint256.Int
	Total       *uint256.Int
	Points      uint32
	Delegations []DelegationEntry
}

// DelegationSum returns the sum of the counted delegation amounts.
func (s *StakeSnapshot) DelegationSum() *uint256.Int {
	sum := new(uint256.Int)
	for _, d := range s.Delegations {
		sum.Add(sum, d.Amount)
	}
	return sum
}

// Validate checks total == bond + sum(delegations) and the top-N cap.
// maxTop <= 0 disables the cap check.
func (s *StakeSnapshot) Validate(maxTop int) error {

	expected := new(uint256.Int).Add(s.Bond, s.DelegationSum())
	if !expected.Eq(s.Total) {
		return &InvariantViolation{
			Round:    s.Round,
			Collator: s.Collator,
			Detail:   "snapshot total does not equal bond plus counted delegations",
			Expected: FormatBalance(expected),
			Actual:   FormatBalance(s.Total),
		}
	}

	if maxTop > 0 && len(s.Delegations) > maxTop {
		return &InvariantViolation{
			Round:    s.Round,
			Collator: s.Collator,
			Detail:   "snapshot holds more delegations than the top delegation cap",
			Expected: fmt.Sprintf("<= %d", maxTop),
			Actual:   fmt.Sprintf("%d", len(s.Delegations)),
		}
	}

	return nil
}

// PerbillRange is a min/ideal/max triple of fractions of total issuance.
type PerbillRange struct {
	Min   Perbill `json:"min"`
	Ideal Perbill `json:"ideal"`
	Max   Perbill `json:"max"`
}

// BalanceRange is a min/ideal/max triple of absolute stake thresholds.
type BalanceRange struct {
	Min   *uint256.Int
	Ideal *uint256.Int
	Max   *uint256.Int
}

// InflationConfig is the active inflation schedule.
type InflationConfig struct {
	Expect BalanceRange
	Annual PerbillRange
	Round  PerbillRange
}

// Validate checks that both ranges are ordered.
func (c InflationConfig) Validate() error {

	r := c.Round
	if r.Min.Parts() > r.Ideal.Parts() || r.Ideal.Parts() > r.Max.Parts() {
		return &InvariantViolation{
			Detail:   "round inflation range is not ordered",
			Expected: "min <= ideal <= max",
			Actual:   fmt.Sprintf("%s / %s / %s", r.Min, r.Ideal, r.Max),
		}
	}

	e := c.Expect
	if e.Min == nil || e.Max == nil || e.Min.Gt(e.Max) {
		return &InvariantViolation{
			Detail:   "staking expectations are not ordered",
			Expected: "min <= max",
			Actual:   fmt.Sprintf("%s / %s", FormatBalance(e.Min), FormatBalance(e.Max)),
		}
	}

	return nil
}

// IssuanceMode selects how the round issuance is derived.
type IssuanceMode int

const (
	// IssuanceClamp picks min, ideal or max by comparing total staked against the expectations.
	IssuanceClamp IssuanceMode = iota
	// IssuanceSlotScaled scales the ideal issuance by the measured round duration.
	IssuanceSlotScaled
)

// SlotTiming carries the measured and ideal round durations used by IssuanceSlotScaled.
type SlotTiming struct {
	RoundDuration uint64
	IdealDuration uint64
}

// RoundEconomics is the per-round economic state the payout is derived from.
type RoundEconomics struct {
	Round         uint32
	TotalIssuance *uint256.Int
	TotalStaked   *uint256.Int
	TotalPoints   uint32

	CollatorCommission   Perbill
	ParachainBondPercent Percent

	// ParachainBondReserved is the amount actually transferred to the bond
	// reserve at payout computation, zero if no transfer occurred.
	ParachainBondReserved *uint256.Int

	Mode  IssuanceMode
	Slots SlotTiming
}

// BondTransferred reports whether a bond reserve transfer was observed.
func (e RoundEconomics) BondTransferred() bool {
	return e.ParachainBondReserved != nil && !e.ParachainBondReserved.IsZero()
}

// DelayedPayout is the chain's own record of the round's payout computation.
type DelayedPayout struct {
	Round              uint32
	RoundIssuance      *uint256.Int
	TotalStakingReward *uint256.Int
	CollatorCommission Perbill
}

// Role of a rewarded entity.
type Role string

const (
	RoleCollator  Role = "collator"
	RoleDelegator Role = "delegator"
)
