package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"rewardaudit/audit"
	"rewardaudit/chainclient"
	"rewardaudit/metrics"
	"rewardaudit/notifications"
	"rewardaudit/storage"
	"rewardaudit/util"
	"rewardaudit/webserver"
)

// Flags holds the command line; audit settings land in cfg.
type Flags struct {
	networkName string
	endpoints   endpointList
	configFile  string
	logDebug    bool
	logTrace    bool
	logFile     string
	webUIAddr   string
	webUIPort   int
	dataDir     string
	watch       bool
	interval    time.Duration

	cfg audit.Config
}

type endpointList []string

func (e *endpointList) String() string {
	return strings.Join(*e, ",")
}

func (e *endpointList) Set(v string) error {
	*e = append(*e, v)
	return nil
}

func main() {

	flags, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	setupLogging(flags.logDebug, flags.logTrace, flags.logFile)

	os.Exit(run(flags))
}

func run(flags *Flags) int {

	var wg sync.WaitGroup

	network, err := util.GetNetworkConstants(flags.networkName)
	if err != nil {
		log.WithError(err).Error("Unknown network")
		return 2
	}

	endpoints := flags.endpoints
	if len(endpoints) == 0 {
		endpoints = endpointList{network.DefaultEndpoint}
	}
	backup := ""
	if len(endpoints) > 1 {
		backup = endpoints[1]
	}

	client, err := chainclient.New(endpoints[0], backup)
	if err != nil {
		log.WithError(err).Error("Cannot create chain client")
		return 2
	}

	db, err := storage.Open(flags.dataDir)
	if err != nil {
		log.WithError(err).Error("Could not open storage")
		return 2
	}
	defer db.Close()
	defer closeLogging()

	log.Infof("=== rewardaudit (%s) ===", network.Name)
	log.WithFields(log.Fields{
		"Primary": endpoints[0], "Backup": backup,
		"TimeBetweenBlocks": network.TimeBetweenBlocks,
		"WatchInterval":     network.WatchInterval,
	}).Debug("Loaded Network Constants")

	runner := audit.NewRunner(client, flags.cfg)
	runner.Store = db
	runner.Metrics = metrics.Audit()

	notifier, err := notifications.New(db)
	if err != nil {
		log.WithError(err).Error("Unable to load notifiers")
	} else {
		runner.Notifier = notifier
	}

	// Clean exits
	shutdownChannel := setupCloseChannel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-shutdownChannel
		log.Warn("Shutting things down...")
		cancel()
	}()

	if flags.watch {
		if err := webserver.Start(webserver.WebServerArgs{
			BindAddr:        flags.webUIAddr,
			BindPort:        flags.webUIPort,
			Storage:         db,
			Notifications:   notifier,
			ShutdownChannel: shutdownChannel,
			WG:              &wg,
		}); err != nil {
			log.WithError(err).Error("Unable to start webserver")
			return 2
		}

		interval := flags.interval
		if interval <= 0 {
			interval = network.WatchInterval
		}

		watch(ctx, runner, interval)
		wg.Wait()

		return 0
	}

	summary, err := runner.Run(ctx)
	if err != nil {
		log.WithError(err).Error("Audit run failed")
		return audit.StatusIncomplete.ExitCode()
	}

	for _, r := range summary.Reports {
		fmt.Println(r.String())
		for _, f := range r.Findings {
			fmt.Println("  " + f.String())
		}
	}
	fmt.Printf("%s: %d rounds\n", summary.Status, len(summary.Rounds))

	return summary.Status.ExitCode()
}

// watch re-runs the audit every interval until ctx is cancelled.
func watch(ctx context.Context, runner *audit.Runner, interval time.Duration) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		summary, err := runner.Run(ctx)
		if err != nil {
			log.WithError(err).Error("Audit run failed")
		} else {
			log.WithFields(log.Fields{
				"RunID": summary.RunID, "Status": summary.Status, "Rounds": len(summary.Rounds),
			}).Info("Audit run finished")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func setupCloseChannel() chan interface{} {

	// Create channels for signals
	signalChan := make(chan os.Signal, 1)
	closingChan := make(chan interface{}, 1)

	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalChan
		close(closingChan)
	}()

	return closingChan
}

// parseArgs reads the command line. A config file, if given, is loaded first
// and then overridden by every flag set explicitly.
func parseArgs(args []string) (*Flags, error) {

	s := &Flags{}
	def := audit.DefaultConfig()

	fs := flag.NewFlagSet("rewardaudit", flag.ContinueOnError)

	fs.StringVar(&s.networkName, "network", util.NETWORK_MOONBEAM, fmt.Sprintf("Which network to use: %s", util.AvailableNetworks()))
	fs.Var(&s.endpoints, "endpoint", "State gateway endpoint; repeat for a backup")
	fs.StringVar(&s.configFile, "config", "", "YAML config file")

	startRound := fs.Uint("start-round", 0, "First round to audit")
	endRound := fs.Uint("end-round", 0, "Last round to audit; latest paid round if unset")
	rounds := fs.Uint("rounds", uint(def.Rounds), "Audit the last N paid rounds")
	atBlock := fs.Uint64("at-block", 0, "Resolve rounds as of this block height; head if unset")
	concurrency := fs.Int("concurrency", def.Limiter.MaxInFlight, "Max in-flight chain queries")
	minSpacing := fs.Duration("min-spacing", def.Limiter.MinSpacing, "Min spacing between chain queries")
	retries := fs.Int("retries", def.Limiter.Retries, "Retries per chain query")
	roundTimeout := fs.Duration("round-timeout", def.RoundTimeout, "Time budget per round")
	deadline := fs.Duration("deadline", 0, "Overall time budget; unset means none")
	roundWorkers := fs.Int("round-workers", def.RoundWorkers, "Rounds audited concurrently")
	tolerance := fs.Uint64("tolerance", 0, "Accepted absolute difference per reward")

	fs.StringVar(&s.dataDir, "datadir", "./", "Location of database")
	fs.StringVar(&s.webUIAddr, "webuiaddr", "127.0.0.1", "Address on which to bind the API server")
	fs.IntVar(&s.webUIPort, "webuiport", 8082, "Port on which to bind the API server")
	fs.BoolVar(&s.watch, "watch", false, "Keep re-running the audit and serve the API")
	fs.DurationVar(&s.interval, "watch-interval", 0, "Interval between watch runs; network default if unset")

	fs.BoolVar(&s.logDebug, "debug", false, "Enable debug-level logging")
	fs.BoolVar(&s.logTrace, "trace", false, "Enable trace-level logging")
	fs.StringVar(&s.logFile, "logfile", "", "Also write logs to this rotating file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if !util.IsValidNetwork(s.networkName) {
		return nil, errors.Errorf("Unknown network: %s", s.networkName)
	}

	s.cfg = def
	if s.configFile != "" {
		cfg, err := audit.LoadConfig(s.configFile)
		if err != nil {
			return nil, err
		}
		s.cfg = cfg
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "start-round":
			s.cfg.StartRound = uint32(*startRound)
		case "end-round":
			s.cfg.EndRound = uint32(*endRound)
		case "rounds":
			s.cfg.Rounds = uint32(*rounds)
		case "at-block":
			s.cfg.AtBlock = *atBlock
		case "concurrency":
			s.cfg.Limiter.MaxInFlight = *concurrency
		case "min-spacing":
			s.cfg.Limiter.MinSpacing = *minSpacing
		case "retries":
			s.cfg.Limiter.Retries = *retries
		case "round-timeout":
			s.cfg.RoundTimeout = *roundTimeout
		case "deadline":
			s.cfg.Deadline = *deadline
		case "round-workers":
			s.cfg.RoundWorkers = *roundWorkers
		case "tolerance":
			s.cfg.Tolerance = *tolerance
		}
	})

	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}
