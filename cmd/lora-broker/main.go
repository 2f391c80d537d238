// lora-broker is the virtual RF medium server for LoRa-style radio nodes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime"

	"github.com/lora-sim/broker/internal/broker"
	"github.com/lora-sim/broker/internal/config"
	"github.com/lora-sim/broker/internal/events"
	"github.com/lora-sim/broker/internal/logging"
	"github.com/lora-sim/broker/internal/metrics"
	"github.com/lora-sim/broker/internal/rng"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		runServe(nil)
		return
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		runServe(args)
	case "version", "--version", "-v":
		fmt.Printf("lora-broker %s (%s/%s)\n", Version, runtime.GOOS, runtime.GOARCH)
	case "help", "--help", "-h":
		printUsage()
	default:
		runServe(os.Args[1:])
	}
}

func printUsage() {
	fmt.Print(`lora-broker - virtual RF medium for LoRa-style radio nodes

Usage:
  lora-broker [serve] [flags]

Flags:
  --listen          TCP listen address (default: $LORA_BROKER_LISTEN_ADDR, else the
                    last saved run's address, else :8765)
  --log             Log level: error|warn|info|debug|trace (default: info)
  --seed            RNG seed for reproducible runs (default: $LORA_BROKER_SEED, else
                    the last saved run's seed, else non-deterministic)
  --events          Path to a JSON Lines events file, or "-" for stdout
  --metrics-addr    Address to serve Prometheus metrics on (disabled if empty)

Commands:
  serve     Run the broker (default if no command given)
  version   Print version information
  help      Print this message
`)
}

func runServe(args []string) {
	cfg, err := config.FromEnvironment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lora-broker: %v\n", err)
		os.Exit(1)
	}

	saved, err := config.LoadSaved()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lora-broker: %v\n", err)
		os.Exit(1)
	}
	if saved.LastListenAddr != "" && cfg.ListenAddr == config.DefaultListenAddr {
		cfg.ListenAddr = saved.LastListenAddr
	}
	if saved.LastSeed != nil && cfg.Seed == nil {
		cfg.Seed = saved.LastSeed
	}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listenAddr := fs.String("listen", cfg.ListenAddr, "TCP listen address")
	logLevel := fs.String("log", cfg.LogLevel, "log level: error|warn|info|debug|trace")
	seed := fs.Int64("seed", 0, "RNG seed for reproducible runs (0 means unset unless $LORA_BROKER_SEED or the last saved run set one)")
	eventsPath := fs.String("events", cfg.EventsOutput, `path to a JSON Lines events file, or "-" for stdout`)
	metricsAddr := fs.String("metrics-addr", cfg.MetricsAddr, "address to serve Prometheus metrics on")
	fs.Parse(args)

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lora-broker: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(level)

	emitter, closeEmitter, err := buildEmitter(*eventsPath)
	if err != nil {
		logger.Error("failed to open events output: %v", err)
		os.Exit(1)
	}
	defer closeEmitter()

	var source *rng.Source
	var effectiveSeed *int64
	if *seed != 0 {
		effectiveSeed = seed
		source = rng.New(*seed)
		logger.Info("RNG seeded deterministically with %d", *seed)
	} else if cfg.Seed != nil {
		effectiveSeed = cfg.Seed
		source = rng.New(*cfg.Seed)
		logger.Info("RNG seeded deterministically with %d", *cfg.Seed)
	} else {
		source = rng.NewRandom()
	}

	var m *metrics.Metrics
	if *metricsAddr != "" {
		m = metrics.New()
		go serveMetrics(logger, *metricsAddr, m)
	}

	b, err := broker.New(broker.Config{
		ListenAddr: *listenAddr,
		Logger:     logger,
		Emitter:    emitter,
		Metrics:    m,
		RNG:        source,
	})
	if err != nil {
		logger.Error("failed to construct broker: %v", err)
		os.Exit(1)
	}

	settings := &config.Saved{LastListenAddr: *listenAddr, LastSeed: effectiveSeed}
	if err := settings.Save(); err != nil {
		logger.Warn("failed to persist settings: %v", err)
	}

	if err := b.Run(context.Background()); err != nil {
		logger.Error("broker exited: %v", err)
		os.Exit(1)
	}
}

func buildEmitter(path string) (events.Emitter, func(), error) {
	switch path {
	case "":
		return events.NopEmitter{}, func() {}, nil
	case "-":
		w := events.NewJSONLineWriter(os.Stdout)
		return w, func() { w.Close() }, nil
	default:
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", path, err)
		}
		w := events.NewJSONLineWriter(f)
		return w, func() { w.Close() }, nil
	}
}

func serveMetrics(logger *logging.Logger, addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	logger.Info("serving metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server exited: %v", err)
	}
}
