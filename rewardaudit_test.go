package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardaudit/audit"
	"rewardaudit/util"
)

func TestParseArgsDefaults(t *testing.T) {

	f, err := parseArgs(nil)
	require.NoError(t, err)

	assert.Equal(t, util.NETWORK_MOONBEAM, f.networkName)
	assert.Equal(t, audit.DefaultConfig(), f.cfg)
	assert.Empty(t, f.endpoints)
}

func TestParseArgsFlags(t *testing.T) {

	f, err := parseArgs([]string{
		"-network", "moonriver",
		"-endpoint", "http://a:8080", "-endpoint", "http://b:8080",
		"-start-round", "10", "-end-round", "12",
		"-concurrency", "3", "-min-spacing", "50ms", "-retries", "5",
		"-deadline", "1h", "-tolerance", "2", "-watch", "-watch-interval", "5m",
	})
	require.NoError(t, err)

	assert.Equal(t, endpointList{"http://a:8080", "http://b:8080"}, f.endpoints)
	assert.Equal(t, uint32(10), f.cfg.StartRound)
	assert.Equal(t, uint32(12), f.cfg.EndRound)
	assert.Equal(t, 3, f.cfg.Limiter.MaxInFlight)
	assert.Equal(t, 50*time.Millisecond, f.cfg.Limiter.MinSpacing)
	assert.Equal(t, 5, f.cfg.Limiter.Retries)
	assert.Equal(t, time.Hour, f.cfg.Deadline)
	assert.Equal(t, uint64(2), f.cfg.Tolerance)
	assert.True(t, f.watch)
	assert.Equal(t, 5*time.Minute, f.interval)
}

func TestFlagsOverrideConfigFile(t *testing.T) {

	path := filepath.Join(t.TempDir(), "audit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
start_round: 100
end_round: 110
tolerance: 7
round_timeout: 2m
limiter:
  concurrency: 2
  retries: 1
`), 0600))

	f, err := parseArgs([]string{"-config", path, "-end-round", "105"})
	require.NoError(t, err)

	assert.Equal(t, uint32(100), f.cfg.StartRound)
	assert.Equal(t, uint32(105), f.cfg.EndRound)
	assert.Equal(t, uint64(7), f.cfg.Tolerance)
	assert.Equal(t, 2*time.Minute, f.cfg.RoundTimeout)
	assert.Equal(t, 2, f.cfg.Limiter.MaxInFlight)
	assert.Equal(t, 1, f.cfg.Limiter.Retries)
}

func TestParseArgsRejects(t *testing.T) {

	_, err := parseArgs([]string{"-network", "polkadot"})
	assert.Error(t, err)

	_, err = parseArgs([]string{"-start-round", "12", "-end-round", "10"})
	assert.Error(t, err)

	_, err = parseArgs([]string{"-concurrency", "0"})
	assert.Error(t, err)
}
