package staking

// Runtime versions at which reward semantics changed.
const (
	SCHEDULED_REQUESTS_VERSION      = 1500 // requests moved out of delegator state
	LOSS_CHECKS_VERSION             = 1800 // Perbill loss accounting is reliable from here
	AUTO_COMPOUND_VERSION           = 1900
	ORBITER_EVENTS_VERSION          = 2000 // orbiters rewarded through their own event
	DELAYED_COLLATOR_PAYOUT_VERSION = 2100 // payouts start one block after round start
	OPTIONAL_AT_STAKE_VERSION       = 2600 // AtStake values became optional
)

// Runtime is the protocol version in force at a block, with its feature gates.
type Runtime struct {
	SpecVersion uint32 `json:"specVersion"`
}

func (r Runtime) HasScheduledRequests() bool {
	return r.SpecVersion >= SCHEDULED_REQUESTS_VERSION
}

func (r Runtime) HasLossChecks() bool {
	return r.SpecVersion >= LOSS_CHECKS_VERSION
}

func (r Runtime) HasAutoCompound() bool {
	return r.SpecVersion >= AUTO_COMPOUND_VERSION
}

func (r Runtime) HasOrbiterEvents() bool {
	return r.SpecVersion >= ORBITER_EVENTS_VERSION
}

// RewardBlockOffset is the number of blocks between round start and the first payout.
func (r Runtime) RewardBlockOffset() uint64 {
	if r.SpecVersion >= DELAYED_COLLATOR_PAYOUT_VERSION {
		return 1
	}
	return 0
}

func (r Runtime) HasOptionalAtStake() bool {
	return r.SpecVersion >= OPTIONAL_AT_STAKE_VERSION
}
