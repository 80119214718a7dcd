// Package snapshot reconstructs round-scoped staking state from historical
// chain state. It is the only part of the audit that reads the chain for
// stake composition; everything it returns is an immutable copy pinned to
// the block it was read at.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"rewardaudit/chain"
	"rewardaudit/staking"
)

const (
	DEFAULT_WORKERS = 4

	BOND_RESERVE_EVENT = "ReservedForParachainBond"
)

type Options struct {
	// Anchor is the block rounds are resolved from; zero means the head.
	Anchor uint64 `yaml:"at_block"`
	// Workers caps concurrent per-collator sub-queries within one round.
	Workers int `yaml:"round_query_workers"`
	// SlotScaling derives round issuance from slot timing when the chain
	// exposes it, instead of the min/ideal/max clamp.
	SlotScaling bool `yaml:"slot_scaling"`
}

// RoundSnapshot is everything the payout calculation of one round needs.
type RoundSnapshot struct {
	Round   uint32
	Payment PaymentRounds
	// Runtime in force when the round was rewarded. It decides reward semantics.
	Runtime staking.Runtime

	Economics      staking.RoundEconomics
	Inflation      staking.InflationConfig
	CommissionRate staking.Perbill
	BondPercent    staking.Percent
	Delayed        *staking.DelayedPayout

	// Collators holds one snapshot per AtStake entry, sorted by id.
	Collators []*staking.StakeSnapshot
	// Awarded are the collators credited with points, sorted by id.
	Awarded []staking.AccountID

	MaxTopDelegations int
}

type Loader struct {
	reader chain.Reader
	anchor uint64
	opts   Options

	mu    sync.Mutex
	known map[uint32]staking.RoundInfo
}

func NewLoader(reader chain.Reader, opts Options) *Loader {

	if opts.Workers <= 0 {
		opts.Workers = DEFAULT_WORKERS
	}

	return &Loader{
		reader: reader,
		anchor: opts.Anchor,
		opts:   opts,
		known:  make(map[uint32]staking.RoundInfo),
	}
}

// Reader returns the reader the loader queries through.
func (l *Loader) Reader() chain.Reader {
	return l.reader
}

// Head is the anchor height the audit runs against.
func (l *Loader) Head(ctx context.Context) (uint64, error) {
	return l.anchorHeight(ctx)
}

// Load produces the snapshot of round. Any failed sub-query fails the whole
// round with an UnavailableError; decoded state breaking an invariant yields
// an InvariantViolation.
func (l *Loader) Load(ctx context.Context, round uint32) (*RoundSnapshot, error) {

	payment, err := l.PaymentRounds(ctx, round)
	if err != nil {
		return nil, unavailable(round, "resolve payment rounds", err)
	}

	log.WithFields(log.Fields{
		"Round":            round,
		"RewardRound":      payment.RewardRound.Info.Current,
		"FirstRewardBlock": payment.FirstRewardBlock,
		"SpecVersion":      payment.RewardRound.Runtime.SpecVersion,
	}).Debug("Resolved payment rounds")

	rs := &RoundSnapshot{
		Round:   round,
		Payment: *payment,
		Runtime: payment.RewardRound.Runtime,
	}

	rewardPrior := payment.RewardRound.PriorBlock.Hash

	atStake, err := l.reader.ReadMapEntries(ctx, rewardPrior, chain.AtStake, round)
	if err != nil {
		return nil, unavailable(round, "read AtStake", err)
	}

	head, err := l.anchorHeight(ctx)
	if err != nil {
		return nil, unavailable(round, "resolve anchor", err)
	}
	if len(atStake) > 0 && head < payment.FirstRewardBlock+uint64(len(atStake))-1 {
		return nil, unavailable(round, "check payout window", errors.Wrapf(ErrRoundNotPaid,
			"payouts run to block %d, anchor is %d", payment.FirstRewardBlock+uint64(len(atStake))-1, head))
	}

	if err := l.loadEconomics(ctx, rs); err != nil {
		return nil, classify(round, staking.AccountID{}, "load round economics", err)
	}

	if err := l.loadCollators(ctx, rs, atStake); err != nil {
		return nil, classify(round, staking.AccountID{}, "load collator snapshots", err)
	}

	if err := rs.Inflation.Validate(); err != nil {
		var inv *InvariantViolation
		if errors.As(err, &inv) {
			inv.Round = round
		}
		return nil, err
	}

	log.WithFields(log.Fields{
		"Round": round, "Collators": len(rs.Collators), "Awarded": len(rs.Awarded),
	}).Info("Loaded round snapshot")

	return rs, nil
}

// loadEconomics reads the round-level values, concurrently.
func (l *Loader) loadEconomics(ctx context.Context, rs *RoundSnapshot) error {

	var (
		p            = rs.Payment
		rewardPrior  = p.RewardRound.PriorBlock.Hash
		rewardFirst  = p.RewardRound.FirstBlock.Hash
		payoutPrior  = p.DelayedPayoutRound.PriorBlock.Hash
		payoutFirst  = p.DelayedPayoutRound.FirstBlock.Hash
		roundToPay   = rs.Round
		totalPoints  chain.Quantity
		commission   chain.Quantity
		issuance     staking.Amount
		staked       staking.Amount
		inflation    inflationJSON
		bondPercent  staking.Percent
		bondReserved *uint256.Int
		delayed      *staking.DelayedPayout
		maxTop       chain.Quantity
		slots        *staking.SlotTiming
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)

	g.Go(func() error {
		return readDecoded(gctx, l.reader, rewardPrior, chain.Points, &totalPoints, roundToPay)
	})
	g.Go(func() error {
		return readDecoded(gctx, l.reader, rewardPrior, chain.CollatorCommission, &commission)
	})
	g.Go(func() error {
		return readDecoded(gctx, l.reader, payoutPrior, chain.TotalIssuance, &issuance)
	})
	g.Go(func() error {
		return readDecoded(gctx, l.reader, payoutPrior, chain.Staked, &staked, roundToPay)
	})
	g.Go(func() error {
		return readDecoded(gctx, l.reader, payoutPrior, chain.InflationConfig, &inflation)
	})
	g.Go(func() error {
		return readDecoded(gctx, l.reader, p.RoundToPay.FirstBlock.Hash, chain.MaxTopDelegationsPerCandidate, &maxTop)
	})
	g.Go(func() (err error) {
		bondPercent, err = l.bondPercent(gctx, rewardPrior)
		return err
	})
	g.Go(func() (err error) {
		bondReserved, err = l.bondReserved(gctx, payoutFirst)
		return err
	})
	g.Go(func() (err error) {
		delayed, err = l.delayedPayout(gctx, rewardFirst, roundToPay)
		return err
	})
	if l.opts.SlotScaling {
		g.Go(func() (err error) {
			slots, err = l.slotTiming(gctx, payoutPrior, p.RoundToPay.Info)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	rs.CommissionRate = staking.PerbillFromParts(commission.Uint64())
	rs.BondPercent = bondPercent
	rs.Inflation = inflation.config()
	rs.Delayed = delayed
	rs.MaxTopDelegations = int(maxTop)

	rs.Economics = staking.RoundEconomics{
		Round:                 roundToPay,
		TotalIssuance:         issuance.Int(),
		TotalStaked:           staked.Int(),
		TotalPoints:           uint32(totalPoints),
		CollatorCommission:    rs.CommissionRate,
		ParachainBondPercent:  bondPercent,
		ParachainBondReserved: bondReserved,
		Mode:                  staking.IssuanceClamp,
	}
	if slots != nil {
		rs.Economics.Mode = staking.IssuanceSlotScaled
		rs.Economics.Slots = *slots
	}

	return nil
}

// bondPercent reads the parachain bond reserve share, from the inflation
// distribution when present and the legacy bond info otherwise.
func (l *Loader) bondPercent(ctx context.Context, id chain.BlockID) (staking.Percent, error) {

	raw, err := l.reader.ReadValue(ctx, id, chain.InflationDistributionInfo)
	if err != nil {
		return staking.Percent{}, errors.Wrap(err, "Unable to read inflation distribution")
	}

	key := chain.InflationDistributionInfo
	if chain.IsEmpty(raw) {
		key = chain.ParachainBondInfo
		if raw, err = l.reader.ReadValue(ctx, id, key); err != nil {
			return staking.Percent{}, errors.Wrap(err, "Unable to read parachain bond info")
		}
	}

	if chain.IsEmpty(raw) {
		return staking.Percent{}, nil
	}

	info, err := decodeBondReserve(raw)
	if err != nil {
		return staking.Percent{}, &decodeError{key: key, err: err}
	}

	percent, err := staking.NewPercent(info.Percent.Uint64())
	if err != nil {
		return staking.Percent{}, &decodeError{key: key, err: err}
	}

	return percent, nil
}

// bondReserved returns the amount transferred to the bond reserve during
// initialization of the block, or nil when no transfer happened.
func (l *Loader) bondReserved(ctx context.Context, id chain.BlockID) (*uint256.Int, error) {

	events, err := l.reader.ReadEvents(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to read payout block events")
	}

	for _, e := range events {
		if e.Phase != chain.PhaseInitialization || !e.Is(chain.PALLET_STAKING, BOND_RESERVE_EVENT) {
			continue
		}
		if len(e.Data) < 2 {
			return nil, &decodeError{key: chain.Storage(chain.PALLET_STAKING, BOND_RESERVE_EVENT),
				err: errors.Errorf("event has %d fields", len(e.Data))}
		}

		var amount staking.Amount
		if err := json.Unmarshal(e.Data[1], &amount); err != nil {
			return nil, &decodeError{key: chain.Storage(chain.PALLET_STAKING, BOND_RESERVE_EVENT), err: err}
		}

		return amount.Int(), nil
	}

	return nil, nil
}

func (l *Loader) delayedPayout(ctx context.Context, id chain.BlockID, round uint32) (*staking.DelayedPayout, error) {

	raw, err := l.reader.ReadValue(ctx, id, chain.DelayedPayouts, round)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to read delayed payout")
	}
	if chain.IsEmpty(raw) {
		return nil, nil
	}

	var d delayedPayoutJSON
	if err := decodeValue(raw, chain.DelayedPayouts, &d); err != nil {
		return nil, err
	}

	return &staking.DelayedPayout{
		Round:              round,
		RoundIssuance:      d.RoundIssuance.Int(),
		TotalStakingReward: d.TotalStakingReward.Int(),
		CollatorCommission: staking.PerbillFromParts(d.CollatorCommission.Uint64()),
	}, nil
}

// slotTiming measures the round by slots. A chain without slot info yields
// nil and the clamp applies.
func (l *Loader) slotTiming(ctx context.Context, id chain.BlockID, round staking.RoundInfo) (*staking.SlotTiming, error) {

	raw, err := l.reader.ReadValue(ctx, id, chain.SlotInfo)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to read slot info")
	}
	if chain.IsEmpty(raw) {
		return nil, nil
	}

	var slot []chain.Quantity
	if err := decodeValue(raw, chain.SlotInfo, &slot); err != nil {
		return nil, err
	}
	if len(slot) == 0 {
		return nil, &decodeError{key: chain.SlotInfo, err: errors.New("empty slot info")}
	}

	var slotDuration, blockTime chain.Quantity
	if err := readDecoded(ctx, l.reader, id, chain.SlotDuration, &slotDuration); err != nil {
		return nil, err
	}
	if err := readDecoded(ctx, l.reader, id, chain.BlockTime, &blockTime); err != nil {
		return nil, err
	}

	current := slot[0].Uint64()
	if current < round.FirstSlot {
		return nil, &decodeError{key: chain.SlotInfo,
			err: errors.Errorf("slot %d precedes round first slot %d", current, round.FirstSlot)}
	}

	return &staking.SlotTiming{
		RoundDuration: (current - round.FirstSlot) * slotDuration.Uint64(),
		IdealDuration: uint64(round.Length) * blockTime.Uint64(),
	}, nil
}

// loadCollators decodes every AtStake entry and its top delegations, and
// reads the awarded points. Per-collator reads run concurrently.
func (l *Loader) loadCollators(ctx context.Context, rs *RoundSnapshot, atStake []chain.Entry) error {

	p := rs.Payment

	awardedEntries, err := l.reader.ReadMapEntries(ctx, p.RewardRound.PriorBlock.Hash, chain.AwardedPts, rs.Round)
	if err != nil {
		return errors.Wrap(err, "Unable to read awarded points")
	}

	points := make(map[staking.AccountID]uint32, len(awardedEntries))
	for _, e := range awardedEntries {
		collator, err := entryAccount(e, 1)
		if err != nil {
			return &decodeError{key: chain.AwardedPts, err: err}
		}
		var pts chain.Quantity
		if err := decodeValue(e.Value, chain.AwardedPts, &pts); err != nil {
			return err
		}
		points[collator] = uint32(pts)
		if pts > 0 {
			rs.Awarded = append(rs.Awarded, collator)
		}
	}
	staking.SortAccounts(rs.Awarded)

	autoCompound := p.RoundToPay.Runtime.HasAutoCompound()
	snapshots := make([]*staking.StakeSnapshot, len(atStake))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)

	for i := range atStake {
		i, entry := i, atStake[i]

		g.Go(func() error {

			collator, err := entryAccount(entry, 1)
			if err != nil {
				return &decodeError{key: chain.AtStake, err: err}
			}

			decoded, err := decodeCollatorSnapshot(entry.Value, rs.Runtime)
			if err != nil {
				return undecodable(rs.Round, collator, chain.AtStake.String(), err)
			}

			raw, err := l.reader.ReadValue(gctx, p.RoundToPay.FirstBlock.Hash, chain.TopDelegations, collator)
			if err != nil {
				return errors.Wrapf(err, "Unable to read top delegations of %s", collator.Hex())
			}
			var top delegationsJSON
			if !chain.IsEmpty(raw) {
				if err := decodeValue(raw, chain.TopDelegations, &top); err != nil {
					return undecodable(rs.Round, collator, chain.TopDelegations.String(), err)
				}
			}

			s := &staking.StakeSnapshot{
				Round:    rs.Round,
				Collator: collator,
				Bond:     decoded.Bond.Int(),
				Total:    decoded.Total.Int(),
				Points:   points[collator],
			}
			for _, d := range decoded.Delegations {
				de := staking.DelegationEntry{Delegator: d.Owner, Amount: d.Amount.Int()}
				if autoCompound {
					if de.AutoCompound, err = staking.NewPercent(d.AutoCompound.Uint64()); err != nil {
						return undecodable(rs.Round, collator, "auto-compound percent", err)
					}
				}
				s.Delegations = append(s.Delegations, de)
			}

			if err := s.Validate(rs.MaxTopDelegations); err != nil {
				return err
			}
			if err := checkTopDelegations(s, top); err != nil {
				return err
			}

			snapshots[i] = s
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return staking.AccountLess(snapshots[i].Collator, snapshots[j].Collator)
	})
	rs.Collators = snapshots

	return nil
}

// checkTopDelegations requires the counted delegations and the collator's
// top delegations record to name the same delegators.
func checkTopDelegations(s *staking.StakeSnapshot, top delegationsJSON) error {

	inTop := make(map[staking.AccountID]struct{}, len(top.Delegations))
	for _, d := range top.Delegations {
		inTop[d.Owner] = struct{}{}
	}

	counted := make(map[staking.AccountID]struct{}, len(s.Delegations))
	for _, d := range s.Delegations {
		counted[d.Delegator] = struct{}{}
		if _, ok := inTop[d.Delegator]; !ok {
			return &InvariantViolation{
				Round:    s.Round,
				Collator: s.Collator,
				Detail:   fmt.Sprintf("delegator %s is missing from top delegations", d.Delegator.Hex()),
				Expected: "present",
				Actual:   "absent",
			}
		}
	}

	for _, d := range top.Delegations {
		if _, ok := counted[d.Owner]; !ok {
			return &InvariantViolation{
				Round:    s.Round,
				Collator: s.Collator,
				Detail:   fmt.Sprintf("top delegator %s is missing from the snapshot", d.Owner.Hex()),
				Expected: "present",
				Actual:   "absent",
			}
		}
	}

	return nil
}

// entryAccount decodes the account at position i of an entry's keys.
func entryAccount(e chain.Entry, i int) (staking.AccountID, error) {

	if len(e.Keys) <= i {
		return staking.AccountID{}, errors.Errorf("entry has %d keys, want more than %d", len(e.Keys), i)
	}

	var id staking.AccountID
	if err := json.Unmarshal(e.Keys[i], &id); err != nil {
		return staking.AccountID{}, errors.Wrap(err, "Unable to decode account key")
	}

	return id, nil
}
