package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/okian/railflow/internal/simulate"
	"github.com/okian/railflow/pkg/logger"
)

// Default configuration constants.
const (
	defaultTrains     = 20
	defaultSamples    = 60
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	defaultTimeout    = 10 * time.Second
	defaultInterval   = 30 * time.Second
	defaultDuplicates = 0.05
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:8000", "Base URL of the service")
		trains     = flag.Int("trains", defaultTrains, "Number of simulated trains")
		samples    = flag.Int("samples", defaultSamples, "Samples per train")
		sections   = flag.String("sections", "AB,BC", "Comma separated section ids walked in order")
		duplicates = flag.Float64("duplicates", defaultDuplicates, "Share of samples re-sent with the same event id")
		interval   = flag.Duration("interval", defaultInterval, "Spacing between samples of one train")
		seed       = flag.Uint64("seed", 1, "Generator seed")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Concurrent submitters")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		logFormat  = flag.String("log-format", "text", "Log format: text or json")
		verbose    = flag.Bool("verbose", false, "Log every rejected request")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	if err := logger.Init(logger.WithFormat(*logFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL:         strings.TrimRight(*baseURL, "/"),
		Trains:          *trains,
		SamplesPerTrain: *samples,
		Sections:        splitList(*sections),
		DuplicateRate:   *duplicates,
		Interval:        *interval,
		Seed:            *seed,
		Workers:         *workers,
		Timeout:         *timeout,
		Verbose:         *verbose,
	}

	if _, err := simulate.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
