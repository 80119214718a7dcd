package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardaudit/audit"
	"rewardaudit/report"
)

func open(t *testing.T) *Storage {

	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return s
}

func passed(round uint32) *report.AuditReport {
	return &report.AuditReport{
		RoundMeta:     report.RoundMeta{Round: round, RewardRound: round - 2},
		Status:        report.StatusPass,
		BlocksScanned: 3,
		CollatorCount: 3,
		Findings:      []report.Finding{},
	}
}

func TestSaveAndGetReport(t *testing.T) {

	s := open(t)

	rep := passed(10)
	require.NoError(t, s.SaveReport(rep))

	raw, err := s.GetReport(10)
	require.NoError(t, err)

	canonical, err := rep.Canonical()
	require.NoError(t, err)
	assert.JSONEq(t, string(canonical), string(raw))

	_, err = s.GetReport(11)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListReportsNewestFirst(t *testing.T) {

	s := open(t)

	for _, r := range []uint32{8, 10, 9} {
		require.NoError(t, s.SaveReport(passed(r)))
	}
	require.NoError(t, s.SaveReport(report.NotAudited(report.RoundMeta{Round: 11}, "deadline exceeded")))

	entries, err := s.ListReports(0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, uint32(11), entries[0].Round)
	assert.Equal(t, report.StatusNotAudited, entries[0].Status)
	assert.Equal(t, 1, entries[0].Findings)
	assert.Equal(t, uint32(8), entries[3].Round)

	digest, err := passed(10).Digest()
	require.NoError(t, err)
	assert.Equal(t, digest, entries[1].Digest)

	entries, err = s.ListReports(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestIncompleteReportKeepsAuditedOne(t *testing.T) {

	s := open(t)

	require.NoError(t, s.SaveReport(passed(10)))
	require.NoError(t, s.SaveReport(report.NotAudited(report.RoundMeta{Round: 10}, "deadline exceeded")))

	entries, err := s.ListReports(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, report.StatusPass, entries[0].Status)

	// An incomplete report can be replaced by a later one.
	require.NoError(t, s.SaveReport(report.NotAudited(report.RoundMeta{Round: 12}, "deadline exceeded")))
	require.NoError(t, s.SaveReport(passed(12)))

	raw, err := s.GetReport(12)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "Pass", got["status"])
}

func TestRuns(t *testing.T) {

	s := open(t)

	_, err := s.GetLatestRun()
	assert.ErrorIs(t, err, ErrNotFound)

	first := &audit.Summary{
		RunID:    uuid.NewString(),
		Started:  time.Unix(1_700_000_000, 0).UTC(),
		Finished: time.Unix(1_700_000_060, 0).UTC(),
		Status:   audit.StatusPass,
		Rounds:   []audit.RoundResult{{Round: 10, Status: report.StatusPass}},
	}
	second := &audit.Summary{
		RunID:  uuid.NewString(),
		Status: audit.StatusFail,
		Rounds: []audit.RoundResult{{Round: 11, Status: report.StatusFail, Findings: 2}},
	}

	require.NoError(t, s.SaveRun(first))
	require.NoError(t, s.SaveRun(second))

	latest, err := s.GetLatestRun()
	require.NoError(t, err)
	assert.Equal(t, second.RunID, latest.RunID)
	assert.Equal(t, audit.StatusFail, latest.Status)
	assert.Equal(t, 2, latest.Rounds[0].Findings)

	got, err := s.GetRun(first.RunID)
	require.NoError(t, err)
	assert.True(t, first.Started.Equal(got.Started))

	_, err = s.GetRun(LATEST_RUN)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.SaveRun(&audit.Summary{}))
}

func TestNotifiersConfig(t *testing.T) {

	s := open(t)

	cfg, err := s.GetNotifiersConfig("telegram")
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, s.SaveNotifiersConfig("telegram", []byte(`{"chatids":[1]}`)))

	cfg, err = s.GetNotifiersConfig("telegram")
	require.NoError(t, err)
	assert.JSONEq(t, `{"chatids":[1]}`, string(cfg))
}
