package storage

import (
	"encoding/json"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"rewardaudit/audit"
	"rewardaudit/report"
)

// ErrNotFound is returned for a round or run never saved.
var ErrNotFound = errors.New("not found")

// storedReport wraps the canonical report JSON with the fields listed
// without decoding the whole report.
type storedReport struct {
	Round    uint32          `json:"round"`
	Status   report.Status   `json:"status"`
	Findings int             `json:"findings"`
	Digest   string          `json:"digest"`
	Report   json.RawMessage `json:"report"`
}

// ReportEntry is one line of the report listing.
type ReportEntry struct {
	Round    uint32        `json:"round"`
	Status   report.Status `json:"status"`
	Findings int           `json:"findings"`
	Digest   string        `json:"digest"`
}

// SaveReport stores the report under its round. An incomplete report never
// replaces one that was audited.
func (s *Storage) SaveReport(r *report.AuditReport) error {

	canonical, err := r.Canonical()
	if err != nil {
		return errors.Wrap(err, "Unable to encode report")
	}

	digest, err := r.Digest()
	if err != nil {
		return errors.Wrap(err, "Unable to digest report")
	}

	record, err := json.Marshal(storedReport{
		Round:    r.Round,
		Status:   r.Status,
		Findings: len(r.Findings),
		Digest:   digest,
		Report:   canonical,
	})
	if err != nil {
		return errors.Wrap(err, "Unable to encode report record")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(REPORTS_BUCKET))
		key := itob(uint64(r.Round))

		if r.Status.Incomplete() {
			if prev := b.Get(key); prev != nil {
				var existing storedReport
				if err := json.Unmarshal(prev, &existing); err != nil {
					return errors.Wrapf(err, "Unable to decode stored report for round %d", r.Round)
				}
				if !existing.Status.Incomplete() {
					return nil
				}
			}
		}

		return b.Put(key, record)
	})
}

// GetReport returns the canonical JSON of the round's report.
func (s *Storage) GetReport(round uint32) (json.RawMessage, error) {

	var out json.RawMessage

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(REPORTS_BUCKET)).Get(itob(uint64(round)))
		if v == nil {
			return ErrNotFound
		}

		var rec storedReport
		if err := json.Unmarshal(v, &rec); err != nil {
			return errors.Wrapf(err, "Unable to decode stored report for round %d", round)
		}
		out = rec.Report

		return nil
	})

	return out, err
}

// ListReports returns the stored rounds, newest first, at most limit of them
// when limit is positive.
func (s *Storage) ListReports(limit int) ([]ReportEntry, error) {

	entries := make([]ReportEntry, 0)

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(REPORTS_BUCKET)).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}

			var rec storedReport
			if err := json.Unmarshal(v, &rec); err != nil {
				return errors.Wrapf(err, "Unable to decode stored report for round %d", btoi(k))
			}

			entries = append(entries, ReportEntry{
				Round:    rec.Round,
				Status:   rec.Status,
				Findings: rec.Findings,
				Digest:   rec.Digest,
			})
		}

		return nil
	})

	return entries, err
}

// SaveRun stores the run summary and marks it as the latest run.
func (s *Storage) SaveRun(sum *audit.Summary) error {

	if sum.RunID == "" {
		return errors.New("Run summary has no id")
	}

	data, err := json.Marshal(sum)
	if err != nil {
		return errors.Wrap(err, "Unable to encode run summary")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(RUNS_BUCKET))
		if err := b.Put([]byte(sum.RunID), data); err != nil {
			return err
		}

		return b.Put([]byte(LATEST_RUN), []byte(sum.RunID))
	})
}

func (s *Storage) GetRun(runID string) (*audit.Summary, error) {

	var sum *audit.Summary

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		sum, err = getRun(tx.Bucket([]byte(RUNS_BUCKET)), runID)
		return err
	})

	return sum, err
}

func (s *Storage) GetLatestRun() (*audit.Summary, error) {

	var sum *audit.Summary

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(RUNS_BUCKET))

		latest := b.Get([]byte(LATEST_RUN))
		if latest == nil {
			return ErrNotFound
		}

		var err error
		sum, err = getRun(b, string(latest))
		return err
	})

	return sum, err
}

func getRun(b *bolt.Bucket, runID string) (*audit.Summary, error) {

	if runID == LATEST_RUN {
		return nil, ErrNotFound
	}

	v := b.Get([]byte(runID))
	if v == nil {
		return nil, ErrNotFound
	}

	sum := &audit.Summary{}
	if err := json.Unmarshal(v, sum); err != nil {
		return nil, errors.Wrapf(err, "Unable to decode run %s", runID)
	}

	return sum, nil
}
