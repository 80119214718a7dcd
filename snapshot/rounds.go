package snapshot

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"rewardaudit/chain"
	"rewardaudit/staking"
)

// RoundData pins one round to the blocks its state is read at.
type RoundData struct {
	Info       staking.RoundInfo `json:"info"`
	FirstBlock *chain.Header     `json:"firstBlock"`
	PriorBlock *chain.Header     `json:"priorBlock"`
	Runtime    staking.Runtime   `json:"runtime"`
}

// PaymentRounds are the three rounds involved in paying round RoundToPay.
type PaymentRounds struct {
	RewardRound        RoundData `json:"rewardRound"`
	RoundToPay         RoundData `json:"roundToPay"`
	DelayedPayoutRound RoundData `json:"delayedPayoutRound"`
	FirstRewardBlock   uint64    `json:"firstRewardBlock"`
	PaymentDelay       uint32    `json:"paymentDelay"`
}

func (l *Loader) roundAt(ctx context.Context, height uint64) (staking.RoundInfo, chain.BlockID, error) {

	id, err := l.reader.BlockHash(ctx, height)
	if err != nil {
		return staking.RoundInfo{}, "", errors.Wrapf(err, "Unable to get hash of block %d", height)
	}

	raw, err := l.reader.ReadValue(ctx, id, chain.Round)
	if err != nil {
		return staking.RoundInfo{}, "", errors.Wrapf(err, "Unable to read round at block %d", height)
	}

	var r roundJSON
	if err := decodeInto(raw, &r); err != nil {
		return staking.RoundInfo{}, "", errors.Wrapf(err, "Unable to decode round at block %d", height)
	}

	info := r.info()
	l.remember(info)

	return info, id, nil
}

func (l *Loader) remember(info staking.RoundInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.known[info.Current] = info
}

// nearestKnown returns the closest cached round at or after target.
func (l *Loader) nearestKnown(target uint32) (staking.RoundInfo, bool) {

	l.mu.Lock()
	defer l.mu.Unlock()

	if info, ok := l.known[target]; ok {
		return info, true
	}

	var (
		best  staking.RoundInfo
		found bool
	)
	for current, info := range l.known {
		if current > target && (!found || current < best.Current) {
			best, found = info, true
		}
	}

	return best, found
}

// FindRound locates target by walking back from the block at height from,
// one reported round length per step. Steps that overshoot a shorter round
// are corrected forward.
func (l *Loader) FindRound(ctx context.Context, from uint64, target uint32) (staking.RoundInfo, error) {

	if cached, ok := l.nearestKnown(target); ok {
		if cached.Current == target {
			return cached, nil
		}
		if cached.First < from {
			from = cached.First
		}
	}

	info, _, err := l.roundAt(ctx, from)
	if err != nil {
		return staking.RoundInfo{}, err
	}
	if info.Current < target {
		return staking.RoundInfo{}, errors.Wrapf(ErrRoundNotPaid,
			"round %d has not started at block %d (current %d)", target, from, info.Current)
	}

	steppedBack := false
	for info.Current != target {

		var next uint64
		if info.Current > target {
			if info.First <= uint64(info.Length) {
				return staking.RoundInfo{}, errors.Wrapf(ErrRoundUnderflow,
					"walking back from round %d (first %d, length %d)", info.Current, info.First, info.Length)
			}
			next = info.First - uint64(info.Length)
			steppedBack = true
		} else {
			if !steppedBack {
				return staking.RoundInfo{}, errors.Errorf("round %d not found walking from block %d", target, from)
			}
			next = info.Next()
		}

		log.WithFields(log.Fields{
			"Target": target, "Current": info.Current, "Block": next,
		}).Trace("Walking rounds")

		if info, _, err = l.roundAt(ctx, next); err != nil {
			return staking.RoundInfo{}, err
		}
	}

	return info, nil
}

// RoundData resolves the first and prior blocks of a round and the runtime
// version in force at its first block.
func (l *Loader) RoundData(ctx context.Context, info staking.RoundInfo) (RoundData, error) {

	if info.First < 1 {
		return RoundData{}, errors.Wrapf(ErrRoundUnderflow, "round %d starts at genesis", info.Current)
	}

	first, err := l.header(ctx, info.First)
	if err != nil {
		return RoundData{}, err
	}

	prior, err := l.header(ctx, info.First-1)
	if err != nil {
		return RoundData{}, err
	}

	runtime, err := l.runtimeAt(ctx, first.Hash)
	if err != nil {
		return RoundData{}, err
	}

	return RoundData{Info: info, FirstBlock: first, PriorBlock: prior, Runtime: runtime}, nil
}

func (l *Loader) header(ctx context.Context, height uint64) (*chain.Header, error) {

	id, err := l.reader.BlockHash(ctx, height)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to get hash of block %d", height)
	}

	h, err := l.reader.Header(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to get header of block %d", height)
	}

	return h, nil
}

func (l *Loader) runtimeAt(ctx context.Context, id chain.BlockID) (staking.Runtime, error) {

	raw, err := l.reader.ReadValue(ctx, id, chain.LastRuntimeUpgrade)
	if err != nil {
		return staking.Runtime{}, errors.Wrap(err, "Unable to read runtime version")
	}

	var upgrade runtimeUpgradeJSON
	if err := decodeInto(raw, &upgrade); err != nil {
		return staking.Runtime{}, errors.Wrap(err, "Unable to decode runtime version")
	}

	return staking.Runtime{SpecVersion: uint32(upgrade.SpecVersion)}, nil
}

func (l *Loader) paymentDelay(ctx context.Context, id chain.BlockID) (uint32, error) {

	raw, err := l.reader.ReadValue(ctx, id, chain.RewardPaymentDelay)
	if err != nil {
		return 0, errors.Wrap(err, "Unable to read reward payment delay")
	}

	var delay chain.Quantity
	if err := decodeInto(raw, &delay); err != nil {
		return 0, errors.Wrap(err, "Unable to decode reward payment delay")
	}

	return uint32(delay), nil
}

// anchorHeight is the block rounds are resolved from, the head when unset.
func (l *Loader) anchorHeight(ctx context.Context) (uint64, error) {

	if l.anchor > 0 {
		return l.anchor, nil
	}

	head, err := l.reader.Head(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "Unable to get chain head")
	}

	return head.Number, nil
}

// PaymentRounds resolves the rounds paying roundToPay: the reward round
// roundToPay+delay, and the round after roundToPay where the payout was computed.
func (l *Loader) PaymentRounds(ctx context.Context, roundToPay uint32) (*PaymentRounds, error) {

	anchor, err := l.anchorHeight(ctx)
	if err != nil {
		return nil, err
	}

	anchorID, err := l.reader.BlockHash(ctx, anchor)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to get hash of anchor block %d", anchor)
	}

	delay, err := l.paymentDelay(ctx, anchorID)
	if err != nil {
		return nil, err
	}

	resolve := func(round uint32) (RoundData, error) {
		info, err := l.FindRound(ctx, anchor, round)
		if err != nil {
			return RoundData{}, err
		}
		return l.RoundData(ctx, info)
	}

	payment := &PaymentRounds{PaymentDelay: delay}

	if payment.RewardRound, err = resolve(roundToPay + delay); err != nil {
		return nil, err
	}
	if payment.RoundToPay, err = resolve(roundToPay); err != nil {
		return nil, err
	}
	if payment.DelayedPayoutRound, err = resolve(roundToPay + 1); err != nil {
		return nil, err
	}

	payment.FirstRewardBlock = payment.RewardRound.Info.First + payment.RewardRound.Runtime.RewardBlockOffset()

	return payment, nil
}

// LatestPaidRound is the most recent round whose reward round has fully
// elapsed at the anchor block.
func (l *Loader) LatestPaidRound(ctx context.Context) (uint32, error) {

	anchor, err := l.anchorHeight(ctx)
	if err != nil {
		return 0, err
	}

	info, id, err := l.roundAt(ctx, anchor)
	if err != nil {
		return 0, err
	}

	delay, err := l.paymentDelay(ctx, id)
	if err != nil {
		return 0, err
	}

	if info.Current <= delay+1 {
		return 0, errors.Wrapf(ErrRoundUnderflow, "round %d is too early to have been paid", info.Current)
	}

	return info.Current - 1 - delay, nil
}

func readDecoded(ctx context.Context, reader chain.Reader, id chain.BlockID, key chain.StorageKey, out interface{}, args ...interface{}) error {

	raw, err := reader.ReadValue(ctx, id, key, args...)
	if err != nil {
		return errors.Wrapf(err, "Unable to read %s", key)
	}

	return decodeValue(raw, key, out)
}

// decodeValue keeps read failures and decode failures apart: only the
// latter are invariant violations.
type decodeError struct {
	key chain.StorageKey
	err error
}

func (e *decodeError) Error() string {
	return "Unable to decode " + e.key.String() + ": " + e.err.Error()
}

func decodeValue(raw json.RawMessage, key chain.StorageKey, out interface{}) error {
	if err := decodeInto(raw, out); err != nil {
		return &decodeError{key: key, err: err}
	}
	return nil
}
