package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nwiizo/pgveil/config"
	"github.com/nwiizo/pgveil/logging"
	"github.com/nwiizo/pgveil/metrics"
	"github.com/nwiizo/pgveil/proxy"
	"github.com/nwiizo/pgveil/wire"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("pgveild", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "pgveild — PostgreSQL masking proxy daemon\n\nUsage:\n  pgveild [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	listen := fs.String("listen", "", "client listen address (required)")
	upstream := fs.String("upstream", "", "upstream PostgreSQL address (required)")
	rulesPath := fs.String("rules", "", "path to the masking rules YAML file (required)")
	upstreamDSN := fs.String("upstream-dsn", "", "upstream DSN for table-name resolution (optional; enables table-scoped rules)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	maxFrame := fs.Int("max-frame", wire.MaxFrameSize, "ceiling on a single frame's declared length, in bytes")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("pgveild %s\n", version)
		return
	}

	if *listen == "" || *upstream == "" || *rulesPath == "" {
		fs.Usage()
		os.Exit(1)
	}

	if err := run(*listen, *upstream, *rulesPath, *upstreamDSN, *logLevel, *maxFrame); err != nil {
		log.Fatal(err)
	}
}

func run(listen, upstream, rulesPath, upstreamDSN, logLevel string, maxFrame int) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.New(os.Stderr, logLevel)

	snap, err := config.Load(rulesPath)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	store := config.NewStore(snap)
	logger.Info().Int("rule_count", len(snap.Rules)).Msg("loaded masking rules")

	reg := metrics.New()

	p := proxy.New(listen, upstream, upstreamDSN, maxFrame, store, reg, logger)

	logger.Info().Str("listen", listen).Str("upstream", upstream).Msg("starting proxy")
	if err := p.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}

	logger.Info().Msg("shut down")
	return nil
}
