// Package main provides the CLI entry point for the traffic generator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/example/shadowgen/internal/config"
	"github.com/example/shadowgen/internal/engine"
	"github.com/example/shadowgen/internal/format"
	"github.com/example/shadowgen/internal/metrics"
	"github.com/example/shadowgen/internal/output"
)

// Version information (populated at build time)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// CLI flags
var (
	configPath     string
	servicesDir    string
	startStr       string
	endStr         string
	hours          int
	seed           int64
	formatName     string
	outDir         string
	rateEPS        float64
	maxFileSizeMB  int
	compress       bool
	workers        int
	verbose        bool
	validate       bool
	dryRun         bool
	showVersion    bool
	prometheusAddr string
)

func init() {
	// Configuration
	flag.StringVar(&configPath, "config", "", "Path to the enterprise YAML configuration file")
	flag.StringVar(&configPath, "c", "", "Path to the enterprise YAML configuration file (shorthand)")
	flag.StringVar(&servicesDir, "services-dir", "", "Directory of per-service YAML profiles")
	flag.StringVar(&servicesDir, "s", "", "Directory of per-service YAML profiles (shorthand)")

	// Time range
	flag.StringVar(&startStr, "start", "", "Simulation start (RFC3339, 2006-01-02T15 or 2006-01-02; default: today 00:00 UTC)")
	flag.StringVar(&endStr, "end", "", "Simulation end, exclusive (same formats as -start)")
	flag.IntVar(&hours, "hours", 0, "Number of hours to generate from -start (alternative to -end)")

	// Generation
	flag.Int64Var(&seed, "seed", 0, "Override the configured run seed")
	flag.IntVar(&workers, "workers", 0, "Concurrent per-user generation limit (default: GOMAXPROCS)")

	// Output
	flag.StringVar(&formatName, "format", "leef", "Output format: leef, cef or json")
	flag.StringVar(&outDir, "out", "output", "Output directory for log files")
	flag.StringVar(&outDir, "o", "output", "Output directory for log files (shorthand)")
	flag.Float64Var(&rateEPS, "rate", 0, "Pace emission at N events per second (0 = unpaced)")
	flag.IntVar(&maxFileSizeMB, "max-file-size", 0, "Rotate log segments above this size in MB (default: 256)")
	flag.BoolVar(&compress, "compress", false, "Gzip rotated log segments")

	// Utility flags
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose output")
	flag.BoolVar(&verbose, "v", false, "Enable verbose output (shorthand)")
	flag.BoolVar(&validate, "validate", false, "Validate configuration and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "Show the generation plan without running")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.StringVar(&prometheusAddr, "prometheus", "", "Prometheus metrics endpoint (e.g., :9090 or localhost:9090)")

	// Custom usage
	flag.Usage = printUsage
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Shadowgen - Shadow IT Traffic Generator

USAGE:
    shadowgen -config <path> -services-dir <path> [options]

DESCRIPTION:
    Generates a realistic, reproducible stream of per-user web access
    events from statistical profiles: an enterprise policy file plus one
    YAML profile per cloud service. Output matches secure web gateway
    log formats so the stream can feed SIEM and CASB test pipelines.

    The same configuration and seed always produce byte-identical
    output, regardless of worker count.

CONFIGURATION:
    -config, -c <path>        Enterprise YAML configuration file
    -services-dir, -s <path>  Directory of per-service YAML profiles

TIME RANGE:
    -start <time>             Simulation start. Accepts RFC3339,
                              "2006-01-02T15" or "2006-01-02".
                              Default: today 00:00 UTC.
    -end <time>               Simulation end, exclusive
    -hours <n>                Hours to generate from -start (default: 24)

GENERATION OPTIONS:
    -seed <n>                 Override the configured run seed
    -workers <n>              Concurrent per-user generation limit

OUTPUT OPTIONS:
    -format <name>            leef (default), cef or json
    -out, -o <path>           Output directory (default: output)
    -rate <n>                 Pace emission at N events/second for live replay
    -max-file-size <mb>       Rotate log segments above this size
    -compress                 Gzip rotated segments
    -prometheus <addr>        Enable Prometheus metrics endpoint (e.g., :9090)

UTILITY OPTIONS:
    -validate                 Validate configuration and exit
    -dry-run                  Show the generation plan without running
    -verbose, -v              Enable verbose output
    -version                  Show version information
    -help, -h                 Show this help message

EXAMPLES:
    # Generate one day of traffic in LEEF
    shadowgen -config configs/enterprise.yaml -services-dir configs/services

    # Generate a specific week in CEF with a fixed seed
    shadowgen -c configs/enterprise.yaml -s configs/services \
        -start 2026-03-02 -hours 168 -seed 42 -format cef

    # Replay at 500 events/second with metrics
    shadowgen -c configs/enterprise.yaml -s configs/services \
        -rate 500 -prometheus :9090

    # Validate configuration
    shadowgen -c configs/enterprise.yaml -s configs/services -validate
`)
}

func main() {
	flag.Parse()

	if showVersion {
		printVersion()
		os.Exit(0)
	}

	if configPath == "" || servicesDir == "" {
		fmt.Fprintln(os.Stderr, "Error: -config and -services-dir flags are required")
		fmt.Fprintln(os.Stderr, "")
		printUsage()
		os.Exit(1)
	}

	absConfigPath, err := filepath.Abs(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving config path: %v\n", err)
		os.Exit(1)
	}
	absServicesDir, err := filepath.Abs(servicesDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving services directory: %v\n", err)
		os.Exit(1)
	}

	ent, err := config.LoadEnterprise(absConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading enterprise configuration: %v\n", err)
		os.Exit(1)
	}
	services, err := config.LoadServicesDir(absServicesDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading service profiles: %v\n", err)
		os.Exit(1)
	}
	if len(services) == 0 {
		fmt.Fprintf(os.Stderr, "Error: no service profiles found in %s\n", absServicesDir)
		os.Exit(1)
	}

	if validate {
		fmt.Printf("Configuration '%s' is valid.\n", ent.Name)
		printConfigSummary(ent, services)
		os.Exit(0)
	}

	start, end, err := resolveRange()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if dryRun {
		printGenerationPlan(ent, services, start, end)
		os.Exit(0)
	}

	if err := run(ent, services, start, end); err != nil {
		fmt.Fprintf(os.Stderr, "Error running generation: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("shadowgen version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// resolveRange turns the -start/-end/-hours flags into an hour-aligned
// half-open range.
func resolveRange() (time.Time, time.Time, error) {
	start := time.Now().UTC().Truncate(24 * time.Hour)
	if startStr != "" {
		t, err := parseTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -start: %w", err)
		}
		start = t
	}
	start = start.Truncate(time.Hour)

	if endStr != "" && hours > 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("-end and -hours are mutually exclusive")
	}

	var end time.Time
	switch {
	case endStr != "":
		t, err := parseTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -end: %w", err)
		}
		end = t.Truncate(time.Hour)
	case hours > 0:
		end = start.Add(time.Duration(hours) * time.Hour)
	default:
		end = start.Add(24 * time.Hour)
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("empty time range [%s, %s)", start, end)
	}
	return start, end, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func printConfigSummary(ent *config.Enterprise, services []*config.Service) {
	fmt.Println()
	fmt.Println("Configuration Summary:")
	fmt.Printf("  Enterprise:  %s\n", ent.Name)
	fmt.Printf("  Domain:      %s\n", ent.Domain)
	fmt.Printf("  Users:       %d\n", ent.Users.TotalCount)
	fmt.Printf("  Profiles:    %d\n", len(ent.Users.Profiles))
	fmt.Printf("  Timezone:    %s\n", ent.Traffic.WorkingHours.Timezone)
	fmt.Printf("  Services:    %d\n", len(services))

	byStatus := make(map[config.ServiceStatus]int)
	for _, svc := range services {
		byStatus[svc.Status()]++
	}
	fmt.Printf("    Sanctioned:   %d\n", byStatus[config.StatusSanctioned])
	fmt.Printf("    Unsanctioned: %d\n", byStatus[config.StatusUnsanctioned])
	fmt.Printf("    Blocked:      %d\n", byStatus[config.StatusBlocked])
	if ent.JunkTraffic.Enabled {
		fmt.Printf("  Junk share:  %.0f%%\n", ent.JunkTraffic.PercentageOfTotal*100)
	}
}

func printGenerationPlan(ent *config.Enterprise, services []*config.Service, start, end time.Time) {
	fmt.Println("=== Generation Plan (Dry Run) ===")
	printConfigSummary(ent, services)

	fmt.Println()
	fmt.Println("Time Range:")
	fmt.Printf("  Start: %s\n", start.Format(time.RFC3339))
	fmt.Printf("  End:   %s\n", end.Format(time.RFC3339))
	fmt.Printf("  Hours: %d\n", int(end.Sub(start)/time.Hour))

	fmt.Println()
	fmt.Println("Activity Model:")
	fmt.Printf("  Working hours: %s-%s %s\n",
		ent.Traffic.WorkingHours.Start, ent.Traffic.WorkingHours.End, ent.Traffic.WorkingHours.Timezone)
	fmt.Printf("  Peak hours:    %v (x%.1f)\n", ent.Traffic.PeakHours, ent.Traffic.PeakMultiplier)
	fmt.Printf("  Off hours:     x%.1f\n", ent.Traffic.OffHoursMultiplier)
	fmt.Printf("  Weekend:       x%.1f\n", ent.Traffic.WeekendActivity)

	// Adoption leaders, for a feel of the expected mix
	sorted := make([]*config.Service, len(services))
	copy(sorted, services)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Activity.UserAdoptionRate > sorted[j].Activity.UserAdoptionRate
	})
	fmt.Println()
	fmt.Println("Service Adoption (top 10):")
	shown := min(10, len(sorted))
	for i := range shown {
		svc := sorted[i]
		fmt.Printf("  %-30s %-13s adoption:%.0f%%\n",
			svc.Name(), svc.Status(), svc.Activity.UserAdoptionRate*100)
	}
	if len(sorted) > shown {
		fmt.Printf("  ... and %d more services\n", len(sorted)-shown)
	}

	fmt.Println()
	fmt.Println("Ready to generate. Remove -dry-run flag to start.")
}

func run(ent *config.Enterprise, services []*config.Service, start, end time.Time) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	var exporter *metrics.PrometheusExporter
	if prometheusAddr != "" {
		port := parsePrometheusPort(prometheusAddr)
		if port == 0 {
			return fmt.Errorf("invalid -prometheus address %q", prometheusAddr)
		}
		exporter = metrics.NewPrometheusExporter(metrics.PrometheusExporterConfig{Port: port})
		if err := exporter.Start(); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = exporter.Stop(ctx)
		}()
		log.Info("metrics endpoint up", zap.String("address", exporter.GetAddress()))
	}

	eng, err := engine.New(ent, services, engine.Options{
		Seed:     seed,
		Workers:  workers,
		Logger:   log,
		Exporter: exporter,
	})
	if err != nil {
		return err
	}

	formatter, err := format.New(formatName)
	if err != nil {
		return err
	}
	writer, err := output.NewWriter(output.Config{
		Dir:             outDir,
		MaxFileSizeMB:   maxFileSizeMB,
		Compress:        compress,
		EventsPerSecond: rateEPS,
	}, formatter)
	if err != nil {
		return err
	}
	defer writer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(ctx, start, end, writer); err != nil {
		return err
	}
	return writer.Close()
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Encoding = "console"
	}
	return cfg.Build()
}

// parsePrometheusPort extracts port from address string.
// Supports formats: :9090, localhost:9090, 9090
// Returns 0 for invalid ports (including out of range 1-65535).
func parsePrometheusPort(addr string) int {
	addr = strings.TrimSpace(addr)

	if !strings.Contains(addr, ":") {
		var port int
		if _, err := fmt.Sscanf(addr, "%d", &port); err == nil {
			if port > 0 && port <= 65535 {
				return port
			}
		}
		return 0
	}

	parts := strings.Split(addr, ":")
	if len(parts) >= 2 {
		var port int
		if _, err := fmt.Sscanf(parts[len(parts)-1], "%d", &port); err == nil {
			if port > 0 && port <= 65535 {
				return port
			}
		}
	}
	return 0
}
