package webserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardaudit/audit"
	"rewardaudit/metrics"
	"rewardaudit/notifications"
	"rewardaudit/report"
	"rewardaudit/storage"
)

func server(t *testing.T) (*httptest.Server, *storage.Storage) {

	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	srv := httptest.NewServer(New(store, nil).Router())
	t.Cleanup(srv.Close)

	return srv, store
}

func get(t *testing.T, url string, out interface{}) int {

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func TestHealth(t *testing.T) {

	srv, _ := server(t)

	var ok map[string]bool
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/api/health", &ok))
	assert.True(t, ok["ok"])
}

func TestReports(t *testing.T) {

	srv, store := server(t)

	for _, r := range []uint32{9, 10} {
		require.NoError(t, store.SaveReport(&report.AuditReport{
			RoundMeta: report.RoundMeta{Round: r},
			Status:    report.StatusPass,
			Findings:  []report.Finding{},
		}))
	}

	var list struct {
		Reports []storage.ReportEntry `json:"reports"`
	}
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/api/reports?limit=1", &list))
	require.Len(t, list.Reports, 1)
	assert.Equal(t, uint32(10), list.Reports[0].Round)

	var rep map[string]interface{}
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/api/reports/9", &rep))
	assert.Equal(t, float64(9), rep["round"])
	assert.Equal(t, "Pass", rep["status"])

	var apiErr ApiError
	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/reports/11", &apiErr))
	assert.Contains(t, apiErr.Error, "round 11")

	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/reports?limit=x", &apiErr))
	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/reports/abc", nil))
}

func TestLatestRun(t *testing.T) {

	srv, store := server(t)

	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/runs/latest", nil))

	require.NoError(t, store.SaveRun(&audit.Summary{
		RunID:    "run-1",
		Started:  time.Unix(1_700_000_000, 0).UTC(),
		Finished: time.Unix(1_700_000_030, 0).UTC(),
		Status:   audit.StatusIncomplete,
		Rounds:   []audit.RoundResult{{Round: 10, Status: report.StatusSnapshotUnavailable, Findings: 1}},
	}))

	var run audit.Summary
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/api/runs/latest", &run))
	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, audit.StatusIncomplete, run.Status)
}

func TestSaveTelegram(t *testing.T) {

	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(bot.Close)

	notifier := &notifications.NotificationHandler{Storage: store, TelegramAPI: bot.URL}
	require.NoError(t, notifier.LoadNotifiers())

	srv := httptest.NewServer(New(store, notifier).Router())
	t.Cleanup(srv.Close)

	cfg := `{"chatids":[42],"apikey":"KEY","enabled":true}`
	resp, err := http.Post(srv.URL+"/api/settings/telegram", "application/json", strings.NewReader(cfg))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	saved, err := store.GetNotifiersConfig(notifications.TELEGRAM)
	require.NoError(t, err)
	assert.JSONEq(t, cfg, string(saved))

	var settings map[string]map[string]interface{}
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/api/settings", &settings))
	assert.Equal(t, true, settings["notifications"]["telegram"].(map[string]interface{})["enabled"])

	resp, err = http.Post(srv.URL+"/api/settings/telegram", "application/json", strings.NewReader(`{"enabled":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {

	srv, _ := server(t)

	metrics.Audit().ObserveRound(10, string(report.StatusPass), time.Second)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "rewardaudit_rounds_total")
}
