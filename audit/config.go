package audit

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"rewardaudit/chain"
)

const (
	DEFAULT_ROUND_WORKERS = 2
	DEFAULT_QUERY_WORKERS = 4
	DEFAULT_ROUND_TIMEOUT = 10 * time.Minute
)

// Config selects the rounds to audit and bounds the work spent on them.
// Either an explicit range or a window of the last Rounds paid rounds.
type Config struct {
	StartRound uint32 `yaml:"start_round"`
	EndRound   uint32 `yaml:"end_round"`
	Rounds     uint32 `yaml:"rounds"`
	AtBlock    uint64 `yaml:"at_block"`

	Limiter chain.LimiterConfig `yaml:"limiter"`

	RoundTimeout time.Duration `yaml:"round_timeout"`
	Deadline     time.Duration `yaml:"deadline"`
	RoundWorkers int           `yaml:"round_workers"`
	QueryWorkers int           `yaml:"query_workers"`

	// Tolerance is the absolute difference accepted on each reward.
	Tolerance   uint64 `yaml:"tolerance"`
	SlotScaling bool   `yaml:"slot_scaling"`
}

func DefaultConfig() Config {
	return Config{
		Rounds:       1,
		Limiter:      chain.DefaultLimiterConfig(),
		RoundTimeout: DEFAULT_ROUND_TIMEOUT,
		RoundWorkers: DEFAULT_ROUND_WORKERS,
		QueryWorkers: DEFAULT_QUERY_WORKERS,
	}
}

// LoadConfig reads a YAML config over the defaults.
func LoadConfig(path string) (Config, error) {

	cfg := DefaultConfig()

	file, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrap(err, "Unable to open config")
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return cfg, errors.Wrap(err, "Unable to decode config")
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {

	switch {
	case c.EndRound > 0 && c.StartRound == 0:
		return errors.New("end_round requires start_round")
	case c.EndRound > 0 && c.StartRound > c.EndRound:
		return errors.Errorf("start_round %d is after end_round %d", c.StartRound, c.EndRound)
	case c.StartRound == 0 && c.Rounds == 0:
		return errors.New("either a round range or a number of rounds is required")
	case c.Limiter.MaxInFlight <= 0:
		return errors.New("concurrency must be positive")
	case c.Limiter.Retries < 0:
		return errors.New("retries must not be negative")
	case c.Limiter.MinSpacing < 0:
		return errors.New("min_spacing must not be negative")
	case c.RoundTimeout < 0 || c.Deadline < 0:
		return errors.New("timeouts must not be negative")
	case c.RoundWorkers < 0 || c.QueryWorkers < 0:
		return errors.New("workers must not be negative")
	}

	return nil
}
