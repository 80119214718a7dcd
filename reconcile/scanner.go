// Package reconcile reads the reward events a round's payout emitted and
// matches them against the expected payout, one reward block at a time.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"rewardaudit/chain"
	"rewardaudit/snapshot"
	"rewardaudit/staking"
)

const (
	DEFAULT_WORKERS = 4

	EVENT_REWARDED         = "Rewarded"
	EVENT_ORBITER_REWARDED = "OrbiterRewarded"
	EVENT_COMPOUNDED       = "Compounded"
)

// RewardEvent is one reward paid in a block. Orbiter rewards carry the
// orbiter and are attributed to the collator it produced for.
type RewardEvent struct {
	Index   int
	Account staking.AccountID
	Orbiter *staking.AccountID
	Amount  *uint256.Int
}

type CompoundEvent struct {
	Index     int
	Candidate staking.AccountID
	Delegator staking.AccountID
	Amount    *uint256.Int
}

// RewardBlock holds the payout events of one block of the window, in
// emission order, and the revokes outstanding at that block.
type RewardBlock struct {
	Offset    int
	Number    uint64
	Rewards   []RewardEvent
	Compounds []CompoundEvent
	Revokes   staking.Revocations
}

type Scanner struct {
	loader  *snapshot.Loader
	reader  chain.Reader
	workers int
}

func NewScanner(loader *snapshot.Loader, workers int) *Scanner {

	if workers <= 0 {
		workers = DEFAULT_WORKERS
	}

	return &Scanner{
		loader:  loader,
		reader:  loader.Reader(),
		workers: workers,
	}
}

// Window is the number of reward blocks to scan: one per snapshotted
// collator, cut short at head.
func Window(first, head uint64, collatorCount int) int {

	if collatorCount <= 0 || head < first {
		return 0
	}

	if available := head - first + 1; available < uint64(collatorCount) {
		return int(available)
	}

	return collatorCount
}

// Scan reads every block of the round's payout window. Blocks are fetched
// concurrently and returned ordered by offset.
func (s *Scanner) Scan(ctx context.Context, payment snapshot.PaymentRounds, collatorCount int, head uint64) ([]*RewardBlock, error) {

	var (
		round   = payment.RoundToPay.Info.Current
		runtime = payment.RewardRound.Runtime
		n       = Window(payment.FirstRewardBlock, head, collatorCount)
		blocks  = make([]*RewardBlock, n)
	)

	log.WithFields(log.Fields{
		"Round": round, "FirstRewardBlock": payment.FirstRewardBlock, "Blocks": n,
	}).Debug("Scanning payout window")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			b, err := s.ScanBlock(gctx, i, payment.FirstRewardBlock+uint64(i), runtime)
			if err != nil {
				return err
			}
			blocks[i] = b
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var ee *eventError
		if errors.As(err, &ee) {
			return nil, &staking.InvariantViolation{
				Round:    round,
				Detail:   fmt.Sprintf("undecodable event %d of block %d", ee.index, ee.block),
				Expected: "well-formed event",
				Actual:   ee.err.Error(),
			}
		}
		return nil, snapshot.Classify(round, "scan payout window", err)
	}

	return blocks, nil
}

// ScanBlock collects the Initialization-phase payout events of one block.
func (s *Scanner) ScanBlock(ctx context.Context, offset int, number uint64, runtime staking.Runtime) (*RewardBlock, error) {

	id, err := s.reader.BlockHash(ctx, number)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to get hash of block %d", number)
	}

	events, err := s.reader.ReadEvents(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to read events of block %d", number)
	}

	b := &RewardBlock{Offset: offset, Number: number}

	var orbiters map[staking.AccountID]staking.AccountID
	for i, ev := range events {

		if ev.Phase != chain.PhaseInitialization {
			continue
		}

		switch {
		case ev.Is(chain.PALLET_STAKING, EVENT_REWARDED):
			var r RewardEvent
			if err := decodeEvent(ev, &r.Account, &r.Amount); err != nil {
				return nil, &eventError{block: number, index: i, err: err}
			}
			r.Index = i
			b.Rewards = append(b.Rewards, r)

		case runtime.HasOrbiterEvents() && ev.Is(chain.PALLET_ORBITERS, EVENT_ORBITER_REWARDED):
			var (
				r       RewardEvent
				orbiter staking.AccountID
			)
			if err := decodeEvent(ev, &orbiter, &r.Amount); err != nil {
				return nil, &eventError{block: number, index: i, err: err}
			}
			if orbiters == nil {
				if orbiters, err = s.loader.Orbiters(ctx, number); err != nil {
					return nil, err
				}
			}
			r.Index = i
			r.Orbiter = &orbiter
			r.Account = orbiter
			if collator, ok := orbiters[orbiter]; ok {
				r.Account = collator
			} else {
				log.WithFields(log.Fields{"Block": number, "Orbiter": orbiter.Hex()}).Warn("Orbiter has no collator")
			}
			b.Rewards = append(b.Rewards, r)

		case runtime.HasAutoCompound() && ev.Is(chain.PALLET_STAKING, EVENT_COMPOUNDED):
			var c CompoundEvent
			if err := decodeEvent(ev, &c.Candidate, &c.Delegator, &c.Amount); err != nil {
				return nil, &eventError{block: number, index: i, err: err}
			}
			c.Index = i
			b.Compounds = append(b.Compounds, c)
		}
	}

	if runtime.HasAutoCompound() {
		if b.Revokes, err = s.loader.LoadRevocations(ctx, number, runtime); err != nil {
			return nil, err
		}
	}

	return b, nil
}

type eventError struct {
	block uint64
	index int
	err   error
}

func (e *eventError) Error() string {
	return fmt.Sprintf("Unable to decode event %d of block %d: %v", e.index, e.block, e.err)
}

// decodeEvent decodes the positional fields of ev into out, which take
// accounts and balances.
func decodeEvent(ev chain.Event, out ...interface{}) error {

	if len(ev.Data) < len(out) {
		return errors.Errorf("%s.%s has %d fields, want %d", ev.Pallet, ev.Method, len(ev.Data), len(out))
	}

	for i, o := range out {
		switch v := o.(type) {
		case **uint256.Int:
			var a staking.Amount
			if err := json.Unmarshal(ev.Data[i], &a); err != nil {
				return errors.Wrapf(err, "field %d", i)
			}
			*v = a.Int()
		default:
			if err := json.Unmarshal(ev.Data[i], o); err != nil {
				return errors.Wrapf(err, "field %d", i)
			}
		}
	}

	return nil
}
