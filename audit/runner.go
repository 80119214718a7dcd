// Package audit runs the reward audit over a range of rounds: it loads each
// round's snapshot, recomputes the payout, reconciles the payout events and
// folds everything into one report per round.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"rewardaudit/chain"
	"rewardaudit/metrics"
	"rewardaudit/payout"
	"rewardaudit/reconcile"
	"rewardaudit/report"
	"rewardaudit/snapshot"
	"rewardaudit/staking"
)

const MAX_NOTIFIED_FINDINGS = 5

type Status string

const (
	StatusPass       Status = "Pass"
	StatusFail       Status = "Fail"
	StatusIncomplete Status = "Incomplete"
)

// ExitCode is the process exit status for a run status.
func (s Status) ExitCode() int {
	switch s {
	case StatusPass:
		return 0
	case StatusFail:
		return 1
	default:
		return 2
	}
}

// ReportStore persists finalized reports and run summaries.
type ReportStore interface {
	SaveReport(r *report.AuditReport) error
	SaveRun(s *Summary) error
}

type Notifier interface {
	Send(msg string) error
}

// RoundResult is one round's line in a run summary.
type RoundResult struct {
	Round    uint32        `json:"round"`
	Status   report.Status `json:"status"`
	Findings int           `json:"findings"`
	Digest   string        `json:"digest,omitempty"`
}

type Summary struct {
	RunID    string        `json:"runId"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Status   Status        `json:"status"`
	Rounds   []RoundResult `json:"rounds"`

	Reports []*report.AuditReport `json:"-"`
}

type Runner struct {
	cfg     Config
	loader  *snapshot.Loader
	scanner *reconcile.Scanner

	// Store, Notifier and Metrics are optional.
	Store    ReportStore
	Notifier Notifier
	Metrics  *metrics.AuditMetrics

	newID func() string
	now   func() time.Time
}

// NewRunner wraps reader in a limiter shared by every round of every run.
func NewRunner(reader chain.Reader, cfg Config) *Runner {

	if cfg.RoundWorkers <= 0 {
		cfg.RoundWorkers = DEFAULT_ROUND_WORKERS
	}

	r := &Runner{
		cfg:   cfg,
		newID: uuid.NewString,
		now:   time.Now,
	}

	limiter := chain.NewLimiter(cfg.Limiter)
	limiter.OnRetry = func(op string, err error, wait time.Duration) {
		r.Metrics.ObserveRetry(op)
	}
	limiter.OnExhausted = func(op string, err error) {
		r.Metrics.ObserveQueryFailure(op)
	}

	r.loader = snapshot.NewLoader(chain.NewLimitedReader(reader, limiter), snapshot.Options{
		Anchor:      cfg.AtBlock,
		Workers:     cfg.QueryWorkers,
		SlotScaling: cfg.SlotScaling,
	})
	r.scanner = reconcile.NewScanner(r.loader, cfg.QueryWorkers)

	return r
}

// Rounds resolves the configured selection into the rounds to audit, oldest first.
func (r *Runner) Rounds(ctx context.Context) ([]uint32, error) {

	start, end := r.cfg.StartRound, r.cfg.EndRound

	if end == 0 {
		latest, err := r.loader.LatestPaidRound(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "Unable to resolve latest paid round")
		}
		end = latest

		if start == 0 {
			start = 1
			if r.cfg.Rounds > 0 && r.cfg.Rounds <= end {
				start = end - r.cfg.Rounds + 1
			}
		}
	}

	if start > end {
		return nil, errors.Errorf("round %d has not been paid yet, latest paid is %d", start, end)
	}

	rounds := make([]uint32, 0, end-start+1)
	for round := start; round <= end; round++ {
		rounds = append(rounds, round)
	}

	return rounds, nil
}

// Run audits every selected round. Rounds run concurrently and never abort
// each other; rounds not started by the deadline are reported NotAudited.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {

	summary := &Summary{
		RunID:   r.newID(),
		Started: r.now(),
	}

	if r.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Deadline)
		defer cancel()
	}

	rounds, err := r.Rounds(ctx)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"RunID": summary.RunID, "From": rounds[0], "To": rounds[len(rounds)-1],
	}).Info("Starting reward audit")

	reports := make([]*report.AuditReport, len(rounds))

	var g errgroup.Group
	g.SetLimit(r.cfg.RoundWorkers)

	for i, round := range rounds {

		if ctx.Err() != nil {
			reports[i] = report.NotAudited(report.RoundMeta{Round: round}, "audit deadline passed before the round started")
			r.record(reports[i], 0)
			continue
		}

		i, round := i, round
		g.Go(func() error {
			reports[i] = r.AuditRound(ctx, round)
			return nil
		})
	}
	_ = g.Wait()

	summary.Reports = reports
	summary.Status = StatusPass
	for _, rep := range reports {

		res := RoundResult{Round: rep.Round, Status: rep.Status, Findings: len(rep.Findings)}
		if digest, err := rep.Digest(); err == nil {
			res.Digest = digest
		}
		summary.Rounds = append(summary.Rounds, res)

		switch {
		case rep.Status == report.StatusFail:
			summary.Status = StatusFail
		case rep.Status.Incomplete() && summary.Status == StatusPass:
			summary.Status = StatusIncomplete
		}
	}
	summary.Finished = r.now()

	log.WithFields(log.Fields{
		"RunID": summary.RunID, "Status": summary.Status, "Rounds": len(rounds),
	}).Info("Finished reward audit")

	if r.Store != nil {
		if err := r.Store.SaveRun(summary); err != nil {
			log.WithError(err).Error("Unable to save run summary")
		}
	}

	if r.Notifier != nil && summary.Status != StatusPass {
		if err := r.Notifier.Send(summary.Message()); err != nil {
			log.WithError(err).Error("Unable to send audit notification")
		}
	}

	return summary, nil
}

// AuditRound produces the report of one round under the per-round timeout.
func (r *Runner) AuditRound(ctx context.Context, round uint32) *report.AuditReport {

	started := r.now()

	if r.cfg.RoundTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RoundTimeout)
		defer cancel()
	}

	rep := r.audit(ctx, round)
	r.record(rep, r.now().Sub(started))

	return rep
}

func (r *Runner) audit(ctx context.Context, round uint32) *report.AuditReport {

	meta := report.RoundMeta{Round: round}

	rs, err := r.loader.Load(ctx, round)
	if err != nil {
		return failed(ctx, meta, err)
	}

	meta.RewardRound = rs.Payment.RewardRound.Info.Current
	meta.SpecVersion = rs.Runtime.SpecVersion
	meta.FirstRewardBlock = rs.Payment.FirstRewardBlock

	res, err := payout.Compute(payout.Input{
		Economics:       rs.Economics,
		Inflation:       rs.Inflation,
		CommissionRate:  rs.CommissionRate,
		BondPercent:     rs.BondPercent,
		BondTransferred: rs.Economics.BondTransferred(),
		Snapshots:       rs.Collators,
	})
	if err != nil {
		var inv *staking.InvariantViolation
		if !errors.As(err, &inv) {
			inv = &staking.InvariantViolation{
				Round:    round,
				Detail:   err.Error(),
				Expected: "computable payout",
				Actual:   "inconsistent round economics",
			}
		}
		return report.Invariant(meta, inv)
	}

	agg := report.NewAggregator(meta, rs.Runtime, res)

	for _, err := range []error{
		payout.CheckDelayedPayout(res, rs.Delayed),
		payout.CheckBondReserve(res, rs.Economics.ParachainBondReserved),
	} {
		var mismatch *payout.MismatchError
		if !errors.As(err, &mismatch) {
			continue
		}
		log.WithFields(log.Fields{"Round": round, "Field": mismatch.Field}).Warn("Staking reward mismatch")
		_ = agg.AddFinding(report.Finding{
			Kind:     report.KindStakingRewardMismatch,
			Detail:   mismatch.Field,
			Expected: mismatch.Expected,
			Actual:   mismatch.Actual,
		})
	}

	head, err := r.loader.Head(ctx)
	if err != nil {
		return failed(ctx, meta, snapshot.Classify(round, "resolve anchor", err))
	}

	blocks, err := r.scanner.Scan(ctx, rs.Payment, len(rs.Collators), head)
	if err != nil {
		return failed(ctx, meta, err)
	}

	opts := reconcile.MatchOptions{Round: round, Runtime: rs.Runtime, Tolerance: r.cfg.Tolerance}
	for _, b := range blocks {
		_ = agg.Add(reconcile.Match(res, b, opts))
	}

	return agg.Finalize()
}

// failed turns an error into the report of a round that could not be judged
// or whose state is inconsistent. Running out of time is never a pass.
func failed(ctx context.Context, meta report.RoundMeta, err error) *report.AuditReport {

	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return report.NotAudited(meta, err.Error())
	}

	var inv *staking.InvariantViolation
	if errors.As(err, &inv) {
		return report.Invariant(meta, inv)
	}

	return report.Unavailable(meta, err)
}

func (r *Runner) record(rep *report.AuditReport, took time.Duration) {

	fields := log.Fields{"Round": rep.Round, "Status": rep.Status, "Findings": len(rep.Findings)}
	switch {
	case rep.Status == report.StatusPass:
		log.WithFields(fields).Info("Round audited")
	case rep.Status.Incomplete():
		log.WithFields(fields).WithField("Reason", rep.Reason).Warn("Round not audited")
	default:
		log.WithFields(fields).Error("Round failed audit")
		for _, f := range rep.Severe() {
			log.WithField("Round", rep.Round).Error(f.String())
		}
	}

	r.Metrics.ObserveRound(rep.Round, string(rep.Status), took)
	for _, f := range rep.Findings {
		r.Metrics.ObserveFinding(string(f.Kind))
	}
	if rep.Losses != nil {
		r.Metrics.SetRealizedLoss("commission", rep.Losses.Commission.Actual.String())
		r.Metrics.SetRealizedLoss("bond", rep.Losses.Bond.Actual.String())
	}

	if r.Store != nil {
		if err := r.Store.SaveReport(rep); err != nil {
			log.WithError(err).WithField("Round", rep.Round).Error("Unable to save report")
		}
	}
}

// Message renders the summary for a notification.
func (s *Summary) Message() string {

	var b strings.Builder
	fmt.Fprintf(&b, "Reward audit %s: %s\n", s.RunID, s.Status)

	for _, rep := range s.Reports {
		if rep.Status == report.StatusPass {
			continue
		}
		fmt.Fprintf(&b, "%s\n", rep)
		if rep.Reason != "" {
			fmt.Fprintf(&b, "  %s\n", rep.Reason)
		}
		for i, f := range rep.Severe() {
			if i == MAX_NOTIFIED_FINDINGS {
				fmt.Fprintf(&b, "  ...\n")
				break
			}
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}

	return b.String()
}
