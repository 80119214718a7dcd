package chain

// KeyKind distinguishes storage items from runtime constants.
type KeyKind int

const (
	KindStorage KeyKind = iota
	KindConstant
)

// StorageKey names a storage item or constant by pallet and item name. Key
// hashing and wire encoding are the reader implementation's concern.
type StorageKey struct {
	Pallet string
	Item   string
	Kind   KeyKind
}

func Storage(pallet, item string) StorageKey {
	return StorageKey{Pallet: pallet, Item: item, Kind: KindStorage}
}

func Constant(pallet, name string) StorageKey {
	return StorageKey{Pallet: pallet, Item: name, Kind: KindConstant}
}

func (k StorageKey) String() string {
	return k.Pallet + "." + k.Item
}

const (
	PALLET_STAKING  = "ParachainStaking"
	PALLET_BALANCES = "Balances"
	PALLET_SYSTEM   = "System"
	PALLET_ASYNC    = "AsyncBacking"
	PALLET_ORBITERS = "MoonbeamOrbiters"
)

var (
	Round                       = Storage(PALLET_STAKING, "Round")
	AtStake                     = Storage(PALLET_STAKING, "AtStake")
	AwardedPts                  = Storage(PALLET_STAKING, "AwardedPts")
	Points                      = Storage(PALLET_STAKING, "Points")
	TopDelegations              = Storage(PALLET_STAKING, "TopDelegations")
	CandidateInfo               = Storage(PALLET_STAKING, "CandidateInfo")
	DelegatorState              = Storage(PALLET_STAKING, "DelegatorState")
	DelegationScheduledRequests = Storage(PALLET_STAKING, "DelegationScheduledRequests")
	CollatorCommission          = Storage(PALLET_STAKING, "CollatorCommission")
	InflationConfig             = Storage(PALLET_STAKING, "InflationConfig")
	InflationDistributionInfo   = Storage(PALLET_STAKING, "InflationDistributionInfo")
	ParachainBondInfo           = Storage(PALLET_STAKING, "ParachainBondInfo")
	Staked                      = Storage(PALLET_STAKING, "Staked")
	DelayedPayouts              = Storage(PALLET_STAKING, "DelayedPayouts")
	SelectedCandidates          = Storage(PALLET_STAKING, "SelectedCandidates")

	TotalIssuance      = Storage(PALLET_BALANCES, "TotalIssuance")
	LastRuntimeUpgrade = Storage(PALLET_SYSTEM, "LastRuntimeUpgrade")
	SlotInfo           = Storage(PALLET_ASYNC, "SlotInfo")
	OrbiterPerRound    = Storage(PALLET_ORBITERS, "OrbiterPerRound")

	RewardPaymentDelay            = Constant(PALLET_STAKING, "RewardPaymentDelay")
	MaxTopDelegationsPerCandidate = Constant(PALLET_STAKING, "MaxTopDelegationsPerCandidate")
	SlotDuration                  = Constant(PALLET_STAKING, "SlotDuration")
	BlockTime                     = Constant(PALLET_STAKING, "BlockTime")
)
