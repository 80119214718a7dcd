// Package report folds per-block reconciliation outcomes into the audit
// report of a round. Reports are plain data, sorted and free of timestamps,
// so re-auditing an unchanged round reproduces them byte for byte.
package report

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"rewardaudit/staking"
	"rewardaudit/util"
)

// Status of an audited round.
type Status string

const (
	StatusPass                Status = "Pass"
	StatusFail                Status = "Fail"
	StatusNotAudited          Status = "NotAudited"
	StatusSnapshotUnavailable Status = "SnapshotUnavailable"
)

// Incomplete reports whether the round could not be judged.
func (s Status) Incomplete() bool {
	return s == StatusNotAudited || s == StatusSnapshotUnavailable
}

// RoundMeta identifies the round a report covers.
type RoundMeta struct {
	Round            uint32 `json:"round"`
	RewardRound      uint32 `json:"rewardRound,omitempty"`
	SpecVersion      uint32 `json:"specVersion,omitempty"`
	FirstRewardBlock uint64 `json:"firstRewardBlock,omitempty"`
}

type Totals struct {
	RoundIssuance       staking.Amount `json:"roundIssuance"`
	ParachainBondReward staking.Amount `json:"parachainBondReward"`
	StakingReward       staking.Amount `json:"stakingReward"`
	CollatorCommission  staking.Amount `json:"collatorCommission"`
	BondReward          staking.Amount `json:"bondReward"`

	Rewarded           staking.Amount `json:"rewarded"`
	CommissionRewarded staking.Amount `json:"commissionRewarded"`
	BondRewarded       staking.Amount `json:"bondRewarded"`
}

// LossCheck compares a realized rounding loss with its estimate.
type LossCheck struct {
	// Theoretical is the loss the calculation bounds, assuming every awarded
	// collator is paid.
	Theoretical staking.Amount `json:"theoretical"`
	// Estimated is the same bound over the collators actually paid.
	Estimated staking.Amount `json:"estimated"`
	Actual    staking.Amount `json:"actual"`
	Tolerance uint64         `json:"tolerance"`
	Exceeded  bool           `json:"exceeded"`
}

type Losses struct {
	// Checked is false for runtimes whose rounding is not reliable enough to bound.
	Checked    bool      `json:"checked"`
	Commission LossCheck `json:"commission"`
	Bond       LossCheck `json:"bond"`
}

// Delegation names a delegator under the collator it was rewarded through.
type Delegation struct {
	Collator  string `json:"collator"`
	Delegator string `json:"delegator"`
}

type CollatorSets struct {
	Rewarded             []string `json:"rewarded"`
	NotRewarded          []string `json:"notRewarded"`
	UnexpectedlyRewarded []string `json:"unexpectedlyRewarded"`
}

type DelegatorSets struct {
	Rewarded               []Delegation `json:"rewarded"`
	NotRewarded            []Delegation `json:"notRewarded"`
	UnexpectedlyRewarded   []Delegation `json:"unexpectedlyRewarded"`
	Compounded             []Delegation `json:"compounded"`
	NotCompounded          []Delegation `json:"notCompounded"`
	UnexpectedlyCompounded []Delegation `json:"unexpectedlyCompounded"`
}

// AuditReport is the outcome of auditing one round.
type AuditReport struct {
	RoundMeta
	Status Status `json:"status"`

	BlocksScanned       int `json:"blocksScanned"`
	CollatorCount       int `json:"collatorCount"`
	AwardedCollators    int `json:"awardedCollators"`
	SkippedRewardBlocks int `json:"skippedRewardBlocks"`

	Totals     *Totals        `json:"totals,omitempty"`
	Losses     *Losses        `json:"losses,omitempty"`
	Collators  *CollatorSets  `json:"collators,omitempty"`
	Delegators *DelegatorSets `json:"delegators,omitempty"`

	Findings []Finding `json:"findings"`
	// Reason explains a round that could not be judged.
	Reason string `json:"reason,omitempty"`
}

// Unavailable is the report of a round whose state could not be read.
func Unavailable(meta RoundMeta, err error) *AuditReport {
	return incomplete(meta, StatusSnapshotUnavailable, KindSnapshotUnavailable, err.Error())
}

// NotAudited is the report of a round that was never started or was cut
// short by a deadline.
func NotAudited(meta RoundMeta, reason string) *AuditReport {
	return incomplete(meta, StatusNotAudited, KindNotAudited, reason)
}

func incomplete(meta RoundMeta, status Status, kind Kind, reason string) *AuditReport {
	return &AuditReport{
		RoundMeta: meta,
		Status:    status,
		Findings: []Finding{{
			Kind:   kind,
			Round:  meta.Round,
			Detail: reason,
		}},
		Reason: reason,
	}
}

// Invariant is the report of a round whose state contradicts an invariant.
func Invariant(meta RoundMeta, v *staking.InvariantViolation) *AuditReport {

	f := Finding{
		Kind:     KindSnapshotInvariantViolation,
		Round:    meta.Round,
		Detail:   v.Detail,
		Expected: v.Expected,
		Actual:   v.Actual,
	}
	if v.Collator != (staking.AccountID{}) {
		f.Entity = v.Collator.Hex()
		f.Collator = f.Entity
		f.Role = staking.RoleCollator
	}

	return &AuditReport{
		RoundMeta: meta,
		Status:    StatusFail,
		Findings:  []Finding{f},
		Reason:    v.Error(),
	}
}

// Severe returns the findings that failed the round.
func (r *AuditReport) Severe() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severe() {
			out = append(out, f)
		}
	}
	return out
}

// FindingsOf counts the findings of kind k.
func (r *AuditReport) FindingsOf(k Kind) int {
	n := 0
	for _, f := range r.Findings {
		if f.Kind == k {
			n++
		}
	}
	return n
}

func (r *AuditReport) String() string {
	return fmt.Sprintf("round %d: %s (%d findings)", r.Round, r.Status, len(r.Findings))
}

// Canonical is the JSON encoding the digest is computed over.
func (r *AuditReport) Canonical() ([]byte, error) {

	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to encode report of round %d", r.Round)
	}

	return data, nil
}

// Digest fingerprints the report. Two audits of an unchanged round share it.
func (r *AuditReport) Digest() (string, error) {

	data, err := r.Canonical()
	if err != nil {
		return "", err
	}

	return util.DigestHex(data)
}
