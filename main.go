package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"klineflow/config"
	"klineflow/internal/metrics"
	"klineflow/internal/pipeline"
	"klineflow/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	symbols := flag.String("symbols", "", "Comma separated symbols, overrides fetch.symbols")
	start := flag.String("start", "", "Range start, overrides fetch.start")
	end := flag.String("end", "", "Range end (exclusive), overrides fetch.end")
	interval := flag.String("interval", "", "Candle interval such as 1m, 4h or 1d, overrides fetch.interval")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath, func(c *config.Config) {
		if *symbols != "" {
			c.Fetch.Symbols = strings.Split(*symbols, ",")
		}
		if *start != "" {
			c.Fetch.Start = *start
		}
		if *end != "" {
			c.Fetch.End = *end
		}
		if *interval != "" {
			c.Fetch.Interval = *interval
		}
	})
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		return 1
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		return 1
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.Klineflow.Name,
		"version":     cfg.Klineflow.Version,
		"environment": env,
	}).Info("starting klineflow")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Configure(cfg.Metrics)
	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		metrics.InitCloudWatch(ctx, cw.Region, cw.Namespace, cw.PublishInterval)
	}
	logger.StartReport(ctx, log, cfg.Logging.ReportInterval)

	opts := []pipeline.Option{pipeline.WithS3Upload()}
	if config.IsProductionLike(env) {
		opts = append(opts, pipeline.WithProgressOutput(nil))
	} else {
		opts = append(opts, pipeline.WithProgressOutput(os.Stdout))
	}

	session, err := pipeline.NewSession(cfg, opts...)
	if err != nil {
		log.WithError(err).Error("failed to create session")
		return 1
	}

	results, err := session.Run(ctx)
	logger.LogReport(log)
	printSummary(os.Stdout, results)
	if err != nil {
		log.WithError(err).Error("klineflow finished with errors")
		return 1
	}

	log.Info("klineflow stopped")
	return 0
}

func printSummary(w io.Writer, results []pipeline.SymbolResult) {
	for _, r := range results {
		switch {
		case r.Partial != nil:
			fmt.Fprintf(w, "%s: stopped after %d pages (%d rows), not saved: %v\n", r.Symbol, r.Partial.Pages(), r.Partial.Rows(), r.Err)
		case r.Err != nil && r.Series == nil:
			fmt.Fprintf(w, "%s: failed: %v\n", r.Symbol, r.Err)
		case r.Err != nil:
			fmt.Fprintf(w, "%s: %d rows, not saved: %v\n", r.Symbol, r.Series.Len(), r.Err)
		default:
			fmt.Fprintf(w, "%s: %d rows saved to %s\n", r.Symbol, r.Series.Len(), strings.Join(r.Paths, ", "))
		}
	}
}
