package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/shmcopy/internal/infrastructure/config"
	"github.com/GriffinCanCode/shmcopy/internal/infrastructure/logging"
	"github.com/GriffinCanCode/shmcopy/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/shmcopy/internal/shared/id"
	"github.com/GriffinCanCode/shmcopy/internal/shm"
	"github.com/GriffinCanCode/shmcopy/internal/transfer"
	"github.com/docker/go-units"
	"go.uber.org/zap"
)

const usageLine = "usage: shmcopy [flags] <source_file_path> <destination_file_path> <shared_memory_name>"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// flags holds raw command-line values. Only flags the user actually set
// override the loaded configuration.
type flags struct {
	configPath  string
	dev         bool
	logLevel    string
	dir         string
	segmentSize string
	slots       int
	chunk       string
	timeout     time.Duration
	rate        string
	metricsFile string
	noClobber   bool
	inspect     bool
	remove      bool
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("shmcopy", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var f flags
	fs.StringVar(&f.configPath, "config", "", "Config file (.toml, .yaml, .yml)")
	fs.BoolVar(&f.dev, "dev", false, "Development mode (colored logs, debug level)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.dir, "dir", "", "Directory holding segments (default /dev/shm)")
	fs.StringVar(&f.segmentSize, "segment-size", "", "Total segment size, e.g. 64KiB")
	fs.IntVar(&f.slots, "slots", 0, "Pipeline slots (producer only)")
	fs.StringVar(&f.chunk, "chunk", "", "Slot capacity, e.g. 4KiB (producer only)")
	fs.DurationVar(&f.timeout, "timeout", 0, "Give up when the peer is silent this long (0 waits forever)")
	fs.StringVar(&f.rate, "rate", "", "Producer throughput limit per second, e.g. 10MiB")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus textfile metrics here on exit")
	fs.BoolVar(&f.noClobber, "no-clobber", false, "Refuse to overwrite an existing destination")
	fs.BoolVar(&f.inspect, "inspect", false, "Print the header of <shared_memory_name> and exit")
	fs.BoolVar(&f.remove, "remove", false, "Delete a stale <shared_memory_name> and exit")
	fs.Usage = func() {
		fmt.Fprintln(stderr, usageLine)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg, err := loadConfig(fs, &f)
	if err != nil {
		fmt.Fprintf(stderr, "shmcopy: %v\n", err)
		return 1
	}

	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
	defer logger.Sync()

	switch {
	case f.inspect:
		return inspect(fs.Args(), cfg, stdout, stderr)
	case f.remove:
		return remove(fs.Args(), cfg, logger, stderr)
	}

	if fs.NArg() != 3 {
		fmt.Fprintf(stderr, "shmcopy: %v: there should be 3 arguments, got %d\n", transfer.ErrArguments, fs.NArg())
		fmt.Fprintln(stderr, usageLine)
		return 1
	}
	source, destination, name := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()
	res, err := transfer.Run(ctx, name, transfer.Config{
		Segment: shm.Options{
			Dir:  cfg.Segment.Dir,
			Size: cfg.Segment.Size.Int(),
		},
		Slots:         cfg.Transfer.Slots,
		ChunkCapacity: cfg.Transfer.ChunkSize.Int(),
		PeerTimeout:   cfg.Transfer.PeerTimeout.Std(),
		AttachTimeout: cfg.Segment.AttachTimeout.Std(),
		RateLimit:     int64(cfg.Transfer.RateLimit),
		Logger:        logger,
		Metrics:       metrics,
	}, transfer.FileEndpoints(source, destination, cfg.Transfer.NoClobber))

	if cfg.Metrics.File != "" {
		if werr := metrics.WriteTextfile(cfg.Metrics.File); werr != nil {
			logger.Warn("Failed to write metrics file", zap.String("path", cfg.Metrics.File), zap.Error(werr))
		}
	}

	if err != nil {
		fmt.Fprintf(stderr, "shmcopy: %v\n", err)
		if errors.Is(err, shm.ErrStaleSegment) {
			fmt.Fprintf(stderr, "shmcopy: clear it with: shmcopy -remove %s\n", name)
		}
		return 1
	}

	rate := ""
	if secs := res.Stats.Duration.Seconds(); secs > 0 {
		rate = units.HumanSize(float64(res.Stats.Bytes)/secs) + "/s"
	}
	logger.Info("Transfer complete",
		zap.String("role", res.Role.String()),
		zap.String("size", units.HumanSize(float64(res.Stats.Bytes))),
		zap.String("rate", rate),
	)

	if res.Role == shm.RoleConsumer {
		fmt.Fprintf(stdout, "File %s has been copied to %s\n", source, destination)
	} else {
		fmt.Fprintf(stdout, "File %s has been handed off to segment %s\n", source, name)
	}
	return 0
}

// loadConfig resolves defaults, the config file and the environment, then
// applies explicitly set flags.
func loadConfig(fs *flag.FlagSet, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	var parseErr error
	setSize := func(dst *config.Size, v string) {
		if err := dst.UnmarshalText([]byte(v)); err != nil && parseErr == nil {
			parseErr = err
		}
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "dev":
			cfg.Logging.Development = f.dev
			if f.dev && cfg.Logging.Level == "info" {
				cfg.Logging.Level = "debug"
			}
		case "log-level":
			cfg.Logging.Level = f.logLevel
		case "dir":
			cfg.Segment.Dir = f.dir
		case "segment-size":
			setSize(&cfg.Segment.Size, f.segmentSize)
		case "slots":
			cfg.Transfer.Slots = f.slots
		case "chunk":
			setSize(&cfg.Transfer.ChunkSize, f.chunk)
		case "timeout":
			cfg.Transfer.PeerTimeout = config.Duration(f.timeout)
		case "rate":
			setSize(&cfg.Transfer.RateLimit, f.rate)
		case "metrics-file":
			cfg.Metrics.File = f.metricsFile
		case "no-clobber":
			cfg.Transfer.NoClobber = f.noClobber
		}
	})
	if parseErr != nil {
		return nil, parseErr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func inspect(args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: shmcopy -inspect <shared_memory_name>")
		return 1
	}

	snap, err := shm.Inspect(cfg.Segment.Dir, args[0])
	if err != nil {
		fmt.Fprintf(stderr, "shmcopy: %v\n", err)
		return 1
	}

	alive := "gone"
	if snap.ProducerAlive {
		alive = "alive"
	}
	fmt.Fprintf(stdout, "segment   %s\n", snap.Path)
	fmt.Fprintf(stdout, "size      %s\n", units.BytesSize(float64(snap.Size)))
	fmt.Fprintf(stdout, "state     %s\n", snap.State)
	tid := id.TransferID(snap.TransferID)
	fmt.Fprintf(stdout, "transfer  %s\n", tid)
	if !tid.IsZero() {
		fmt.Fprintf(stdout, "started   %s\n", tid.Time().Format(time.RFC3339))
	}
	fmt.Fprintf(stdout, "layout    %d x %s\n", snap.Slots, units.BytesSize(float64(snap.ChunkCapacity)))
	fmt.Fprintf(stdout, "finished  %t\n", snap.Finished)
	fmt.Fprintf(stdout, "producer  %d (%s)\n", snap.ProducerPID, alive)
	fmt.Fprintf(stdout, "consumer  %d\n", snap.ConsumerPID)
	for i, s := range snap.SlotStates {
		fmt.Fprintf(stdout, "slot %-4d ready=%t length=%d seq=%d\n", i, s.Ready, s.Length, s.Sequence)
	}
	return 0
}

func remove(args []string, cfg *config.Config, logger *logging.Logger, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: shmcopy -remove <shared_memory_name>")
		return 1
	}

	if err := shm.Remove(cfg.Segment.Dir, args[0]); err != nil {
		fmt.Fprintf(stderr, "shmcopy: %v\n", err)
		return 1
	}
	logger.Info("Segment removed", zap.String("segment", args[0]))
	return 0
}
