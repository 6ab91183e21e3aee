package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ftahirops/hostwatch/collector"
	"github.com/ftahirops/hostwatch/config"
	"github.com/ftahirops/hostwatch/engine"
	"github.com/ftahirops/hostwatch/server"
)

// Version is set at build time via ldflags.
var Version = "0.1.0"

// ErrUsage marks configuration and flag errors so main can exit 2.
var ErrUsage = errors.New("usage error")

func printUsage() {
	fmt.Fprintf(os.Stderr, `hostwatch v%s — Host telemetry engine with online anomaly detection

Usage:
  hostwatch [OPTIONS] [INTERVAL]

Modes:
  (default)         Live mode — sample OS counters until interrupted
  -replay FILE      Score a historical CSV instead of live counters, then exit
  -datagen FILE     Write a synthetic replay CSV and exit
  -version          Print version and exit

Options:
  -config FILE      JSON config file (flags override it)
  -interval N       Sampling interval in seconds (default: 1, fractions allowed)
  -contamination F  Expected anomaly fraction in (0, 0.5] (default: 0.05)
  -listen ADDR      HTTP listen address for the API, websocket, and metrics
  -nats URL         NATS broker URL for event republishing
  -replay-out FILE  Scored CSV output for -replay (default: stdout)
  -rows N           Row count for -datagen (default: 1000)
  -samples-log FILE CSV samples log path (live mode)
  -anomalies-log FILE
                    JSONL anomalies log path (live mode)
  -log-level LEVEL  trace, debug, info, warn, error (default: info)

Positional:
  INTERVAL          First positional arg sets interval: hostwatch 5 = hostwatch -interval 5

Examples:
  hostwatch                              Live mode, 1s cadence
  hostwatch 5                            Live mode, 5s cadence
  hostwatch -listen :8080                Live mode with the HTTP API
  hostwatch -replay metrics.csv -replay-out scored.csv
  hostwatch -datagen demo.csv -rows 2000
  hostwatch -config /etc/hostwatch.json -log-level debug
  hostwatch -version
`, Version)
}

// Run parses flags and starts the selected mode. Errors wrapping ErrUsage
// are caller mistakes; everything else is a runtime failure.
func Run() error {
	var (
		configPath    string
		intervalSec   float64
		contamination float64
		listenAddr    string
		natsURL       string
		replayPath    string
		replayOut     string
		datagenPath   string
		datagenRows   int
		samplesLog    string
		anomaliesLog  string
		logLevel      string
		showVersion   bool
	)

	flag.StringVar(&configPath, "config", "", "JSON config file")
	flag.Float64Var(&intervalSec, "interval", 0, "Sampling interval in seconds")
	flag.Float64Var(&contamination, "contamination", 0, "Expected anomaly fraction in (0, 0.5]")
	flag.StringVar(&listenAddr, "listen", "", "HTTP listen address")
	flag.StringVar(&natsURL, "nats", "", "NATS broker URL")
	flag.StringVar(&replayPath, "replay", "", "Replay a historical CSV instead of live sampling")
	flag.StringVar(&replayOut, "replay-out", "", "Scored CSV output for -replay (default stdout)")
	flag.StringVar(&datagenPath, "datagen", "", "Write a synthetic replay CSV and exit")
	flag.IntVar(&datagenRows, "rows", 1000, "Row count for -datagen")
	flag.StringVar(&samplesLog, "samples-log", "", "CSV samples log path")
	flag.StringVar(&anomaliesLog, "anomalies-log", "", "JSONL anomalies log path")
	flag.StringVar(&logLevel, "log-level", "", "Log level (trace,debug,info,warn,error)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")

	flag.Usage = printUsage
	flag.Parse()

	if showVersion {
		fmt.Printf("hostwatch v%s\n", Version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	// Flags override the file.
	if intervalSec > 0 {
		cfg.IntervalSec = intervalSec
	}
	if contamination != 0 {
		cfg.Detector.Contamination = contamination
	}
	if listenAddr != "" {
		cfg.Listen.Addr = listenAddr
	}
	if natsURL != "" {
		cfg.NATS.URL = natsURL
	}
	if samplesLog != "" {
		cfg.SamplesLogPath = samplesLog
	}
	if anomaliesLog != "" {
		cfg.AnomaliesLogPath = anomaliesLog
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Support positional arg for interval: `hostwatch 5` = `hostwatch -interval 5`
	if args := flag.Args(); len(args) > 0 {
		if n, err := strconv.ParseFloat(args[0], 64); err == nil && n > 0 {
			cfg.IntervalSec = n
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	switch {
	case datagenPath != "":
		return runDatagen(datagenPath, datagenRows, cfg.Detector.Seed)
	case replayPath != "":
		return runReplay(cfg, replayPath, replayOut, log)
	}
	return runLive(cfg, log)
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("unknown log level %q", level)
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		SampleBuffer:        cfg.SampleBuffer,
		AnomalyBuffer:       cfg.AnomalyBuffer,
		EventQueue:          cfg.EventQueue,
		PersistQueue:        cfg.PersistQueue,
		PersistFailureLimit: cfg.PersistFailLimit,
		ShutdownTimeout:     cfg.ShutdownTimeout(),
		Detector: engine.DetectorConfig{
			Contamination:      cfg.Detector.Contamination,
			MinTrainingSamples: cfg.Detector.MinTrainingSamples,
			RetrainInterval:    cfg.RetrainInterval(),
			RetrainMultiplier:  cfg.Detector.RetrainMultiplier,
			Trees:              cfg.Detector.Trees,
			Seed:               cfg.Detector.Seed,
		},
	}
}

// runLive samples OS counters until SIGINT/SIGTERM.
func runLive(cfg config.Config, log zerolog.Logger) error {
	samplesF, err := engine.OpenSamplesLog(cfg.SamplesLogPath)
	if err != nil {
		return err
	}
	defer samplesF.Close()
	anomaliesF, err := engine.OpenAnomaliesLog(cfg.AnomaliesLogPath)
	if err != nil {
		return err
	}
	defer anomaliesF.Close()

	src := collector.NewLiveSource(cfg.Interval(), log)
	defer src.Close()

	eng := engine.New(src, engineConfig(cfg), samplesF, anomaliesF, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	if cfg.Listen.Addr != "" {
		srv := server.New(cfg.Listen.Addr, eng, log)
		g.Go(func() error { return srv.Run(ctx) })
	}
	if cfg.NATS.URL != "" {
		pub, err := server.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := pub.Run(ctx, eng); errors.Is(err, context.Canceled) {
				return nil
			} else if err != nil {
				return err
			}
			return nil
		})
	}

	log.Info().Str("version", Version).Float64("interval_sec", cfg.IntervalSec).Msg("hostwatch started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runReplay scores a historical CSV through a fresh engine and writes the
// scored rows to replayOut (stdout when empty).
func runReplay(cfg config.Config, path, outPath string, log zerolog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open replay input: %v", ErrUsage, err)
	}
	defer f.Close()

	src, err := collector.NewReplaySource(f, cfg.Interval())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	log.Info().Str("input", path).Int("rows", src.Len()).Msg("replay loaded")

	var out io.Writer = os.Stdout
	if outPath != "" {
		outF, err := engine.OpenSamplesLog(outPath)
		if err != nil {
			return err
		}
		defer outF.Close()
		out = outF
	} else {
		fmt.Fprintln(out, engine.SamplesCSVHeader)
	}
	anomaliesF, err := engine.OpenAnomaliesLog(cfg.AnomaliesLogPath)
	if err != nil {
		return err
	}
	defer anomaliesF.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ecfg := engineConfig(cfg)
	ecfg.SynchronousFit = true // every post-window row gets scored
	eng := engine.New(src, ecfg, out, anomaliesF, log)
	if err := eng.Run(ctx); err != nil {
		return err
	}

	st := eng.Stats()
	log.Info().
		Uint64("samples", st.SampleCount).
		Uint64("anomalies", st.AnomalyCount).
		Msg("replay finished")
	return nil
}

// runDatagen writes a synthetic replay CSV.
func runDatagen(path string, rows int, seed int64) error {
	if rows <= 0 {
		return fmt.Errorf("%w: -rows must be positive, got %d", ErrUsage, rows)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return collector.WriteSyntheticCSV(f, rows, seed)
}
