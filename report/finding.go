package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"

	"rewardaudit/staking"
)

// Kind classifies a finding.
type Kind string

const (
	KindRewardMismatch             Kind = "RewardMismatch"
	KindMissingReward              Kind = "MissingReward"
	KindUnexpectedReward           Kind = "UnexpectedReward"
	KindCompoundMismatch           Kind = "CompoundMismatch"
	KindMissingCompound            Kind = "MissingCompound"
	KindUnexpectedCompound         Kind = "UnexpectedCompound"
	KindDuplicateEvent             Kind = "DuplicateEvent"
	KindOrderingViolation          Kind = "OrderingViolation"
	KindRoundingBoundExceeded      Kind = "RoundingBoundExceeded"
	KindTotalMismatch              Kind = "TotalMismatch"
	KindSkippedBlocksMismatch      Kind = "SkippedBlocksMismatch"
	KindStakingRewardMismatch      Kind = "StakingRewardMismatch"
	KindSnapshotInvariantViolation Kind = "SnapshotInvariantViolation"
	KindSnapshotUnavailable        Kind = "SnapshotUnavailable"
	KindNotAudited                 Kind = "NotAudited"
)

// Finding is one discrepancy with everything needed to act on it.
type Finding struct {
	Kind     Kind         `json:"kind"`
	Round    uint32       `json:"round"`
	Block    uint64       `json:"block,omitempty"`
	Entity   string       `json:"entity,omitempty"`
	Role     staking.Role `json:"role,omitempty"`
	Collator string       `json:"collator,omitempty"`
	Expected string       `json:"expected,omitempty"`
	Actual   string       `json:"actual,omitempty"`
	Diff     string       `json:"diff,omitempty"`
	Detail   string       `json:"detail,omitempty"`
}

func (f Finding) String() string {

	var b strings.Builder
	fmt.Fprintf(&b, "round %d", f.Round)
	if f.Block > 0 {
		fmt.Fprintf(&b, " block %d", f.Block)
	}
	fmt.Fprintf(&b, " %s", f.Kind)
	if f.Entity != "" {
		fmt.Fprintf(&b, " %s %s", f.Role, f.Entity)
	}
	if f.Collator != "" && f.Collator != f.Entity {
		fmt.Fprintf(&b, " (collator %s)", f.Collator)
	}
	if f.Detail != "" {
		fmt.Fprintf(&b, ": %s", f.Detail)
	}
	if f.Expected != "" || f.Actual != "" {
		fmt.Fprintf(&b, ": expected %s, actual %s", f.Expected, f.Actual)
	}
	if f.Diff != "" {
		fmt.Fprintf(&b, " (diff %s)", f.Diff)
	}

	return b.String()
}

// WithAmounts fills expected, actual and their signed difference.
func (f Finding) WithAmounts(expected, actual *uint256.Int) Finding {

	f.Expected = staking.FormatBalance(expected)
	f.Actual = staking.FormatBalance(actual)

	diff, under := staking.AbsDiff(actual, expected)
	f.Diff = staking.FormatBalance(diff)
	if under {
		f.Diff = "-" + f.Diff
	} else if !diff.IsZero() {
		f.Diff = "+" + f.Diff
	}

	return f
}

// Severe reports whether the finding fails the round.
func (f Finding) Severe() bool {
	switch f.Kind {
	case KindSnapshotUnavailable, KindNotAudited:
		return false
	}
	return true
}

func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Block != b.Block {
			return a.Block < b.Block
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Collator != b.Collator {
			return a.Collator < b.Collator
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.Detail < b.Detail
	})
}
