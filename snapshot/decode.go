package snapshot

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"rewardaudit/chain"
	"rewardaudit/staking"
)

// Storage renderings as returned by the reader. Field names follow the
// camelCase JSON the gateways emit for the runtime types.

type roundJSON struct {
	Current   chain.Quantity `json:"current"`
	First     chain.Quantity `json:"first"`
	Length    chain.Quantity `json:"length"`
	FirstSlot chain.Quantity `json:"firstSlot"`
}

func (r roundJSON) info() staking.RoundInfo {
	return staking.RoundInfo{
		Current:   uint32(r.Current),
		First:     r.First.Uint64(),
		Length:    uint32(r.Length),
		FirstSlot: r.FirstSlot.Uint64(),
	}
}

type bondJSON struct {
	Owner        staking.AccountID `json:"owner"`
	Amount       staking.Amount    `json:"amount"`
	AutoCompound chain.Quantity    `json:"autoCompound"`
}

type collatorSnapshotJSON struct {
	Bond        staking.Amount `json:"bond"`
	Total       staking.Amount `json:"total"`
	Delegations []bondJSON     `json:"delegations"`
}

type delegationsJSON struct {
	Delegations []bondJSON     `json:"delegations"`
	Total       staking.Amount `json:"total"`
}

type rangeJSON struct {
	Min   staking.Amount `json:"min"`
	Ideal staking.Amount `json:"ideal"`
	Max   staking.Amount `json:"max"`
}

type perbillRangeJSON struct {
	Min   chain.Quantity `json:"min"`
	Ideal chain.Quantity `json:"ideal"`
	Max   chain.Quantity `json:"max"`
}

func (p perbillRangeJSON) perbills() staking.PerbillRange {
	return staking.PerbillRange{
		Min:   staking.PerbillFromParts(p.Min.Uint64()),
		Ideal: staking.PerbillFromParts(p.Ideal.Uint64()),
		Max:   staking.PerbillFromParts(p.Max.Uint64()),
	}
}

type inflationJSON struct {
	Expect rangeJSON        `json:"expect"`
	Annual perbillRangeJSON `json:"annual"`
	Round  perbillRangeJSON `json:"round"`
}

func (i inflationJSON) config() staking.InflationConfig {
	return staking.InflationConfig{
		Expect: staking.BalanceRange{
			Min:   i.Expect.Min.Int(),
			Ideal: i.Expect.Ideal.Int(),
			Max:   i.Expect.Max.Int(),
		},
		Annual: i.Annual.perbills(),
		Round:  i.Round.perbills(),
	}
}

type bondReserveJSON struct {
	Account staking.AccountID `json:"account"`
	Percent chain.Quantity    `json:"percent"`
}

type delayedPayoutJSON struct {
	RoundIssuance      staking.Amount `json:"roundIssuance"`
	TotalStakingReward staking.Amount `json:"totalStakingReward"`
	CollatorCommission chain.Quantity `json:"collatorCommission"`
}

type runtimeUpgradeJSON struct {
	SpecVersion chain.Quantity `json:"specVersion"`
	SpecName    string         `json:"specName"`
}

type scheduledRequestJSON struct {
	Delegator      staking.AccountID          `json:"delegator"`
	WhenExecutable chain.Quantity             `json:"whenExecutable"`
	Action         map[string]json.RawMessage `json:"action"`
}

type legacyRequestJSON struct {
	Collator       staking.AccountID `json:"collator"`
	Amount         staking.Amount    `json:"amount"`
	WhenExecutable chain.Quantity    `json:"whenExecutable"`
	Action         string            `json:"action"`
}

type legacyRequestsJSON struct {
	RevocationsCount chain.Quantity               `json:"revocationsCount"`
	Requests         map[string]legacyRequestJSON `json:"requests"`
	LessTotal        staking.Amount               `json:"lessTotal"`
}

type delegatorStateJSON struct {
	ID       staking.AccountID  `json:"id"`
	Requests legacyRequestsJSON `json:"requests"`
}

// unwrapOption strips an explicit {"some": v} rendering of an Option.
func unwrapOption(v json.RawMessage) json.RawMessage {

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(v, &wrapper); err != nil || len(wrapper) != 1 {
		return v
	}
	for k, inner := range wrapper {
		if strings.EqualFold(k, "some") {
			return inner
		}
	}

	return v
}

// decodeCollatorSnapshot decodes an AtStake value. From the optional-AtStake
// runtime the value may arrive wrapped as an Option.
func decodeCollatorSnapshot(v json.RawMessage, runtime staking.Runtime) (*collatorSnapshotJSON, error) {

	if runtime.HasOptionalAtStake() {
		v = unwrapOption(v)
	}
	if chain.IsEmpty(v) {
		return nil, errors.New("empty collator snapshot")
	}

	var s collatorSnapshotJSON
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, errors.Wrap(err, "Unable to decode collator snapshot")
	}

	return &s, nil
}

// decodeBondReserve accepts the distribution list rendering (bond reserve
// first) as well as a single {account, percent} record.
func decodeBondReserve(v json.RawMessage) (*bondReserveJSON, error) {

	v = unwrapOption(v)

	var list []bondReserveJSON
	if err := json.Unmarshal(v, &list); err == nil {
		if len(list) == 0 {
			return nil, errors.New("empty inflation distribution")
		}
		return &list[0], nil
	}

	var single bondReserveJSON
	if err := json.Unmarshal(v, &single); err != nil {
		return nil, errors.Wrap(err, "Unable to decode parachain bond info")
	}

	return &single, nil
}

func decodeAction(action map[string]json.RawMessage) (staking.RequestAction, *staking.Amount, error) {

	for k, raw := range action {
		var amount staking.Amount
		if err := json.Unmarshal(raw, &amount); err != nil {
			return 0, nil, errors.Wrapf(err, "Unable to decode %s amount", k)
		}
		switch strings.ToLower(k) {
		case "revoke":
			return staking.ActionRevoke, &amount, nil
		case "decrease":
			return staking.ActionDecrease, &amount, nil
		}
	}

	return 0, nil, errors.Errorf("unknown request action %v", action)
}

func decodeLegacyAction(action string) (staking.RequestAction, error) {
	switch strings.ToLower(action) {
	case "revoke":
		return staking.ActionRevoke, nil
	case "decrease":
		return staking.ActionDecrease, nil
	}
	return 0, errors.Errorf("unknown request action %q", action)
}

func decodeInto(v json.RawMessage, out interface{}) error {
	if chain.IsEmpty(v) {
		return errors.New("value is absent")
	}
	return json.Unmarshal(unwrapOption(v), out)
}
