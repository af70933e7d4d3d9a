// Command hedgebot is the process entrypoint: it wires the venue
// gateways, storage, and every engine package together, starts the
// per-venue event ingestion tasks, then runs one interactive trade
// session (spec.md §6). Grounded on the teacher's cmd/main.go
// layered-bootstrap style (storage → feeds → risk → execution →
// strategy → engine → notifications → start).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/alert"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/cli"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/config"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/dbstore"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/eventlog"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/ingest"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/management"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/oracle"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/orchestrator"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/orderstore"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/placement"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/reconcile"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/resolver"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/venue"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/venue/bybit"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/venue/coindcx"
)

const version = "v1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration failed to load")
	}

	log.Info().Msg("═══════════════════════════════════════════════════════")
	log.Info().Msgf("  HEDGE ENGINE %s — delta-neutral spot/perp execution", version)
	log.Info().Msg("═══════════════════════════════════════════════════════")

	db, err := dbstore.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	defer db.Close()
	log.Info().Msg("storage layer initialized")

	venueA, err := coindcx.New(cfg.VenueAAPIKey, cfg.VenueAAPISecret, os.Getenv("COINDCX_WALLET_PRIVATE_KEY"), cfg.VenueATestnet)
	if err != nil {
		log.Fatal().Err(err).Msg("coindcx client init failed")
	}
	venueB := bybit.New(cfg.VenueBAPIKey, cfg.VenueBAPISecret, bybit.MarginIsolated)
	log.Info().Msg("venue gateways initialized")

	eventLog := eventlog.New(db)
	store := orderstore.New(db, eventLog)
	alerter := alert.New(cfg.TelegramBotToken, cfg.TelegramChatID)

	specs, err := loadSymbolSpecs(context.Background(), db)
	if err != nil {
		log.Fatal().Err(err).Msg("loading symbol specs failed")
	}
	quotes := newSymbolOracle(specs, venueA, venueB, cfg.PriceFreshness, cfg.SpreadSanityUpperBound)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runIngest(ctx, ingest.New(venueA, eventLog, store), model.VenueA)
	go runIngest(ctx, ingest.New(venueB, eventLog, store), model.VenueB)
	log.Info().Msg("event ingestion tasks started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn().Msg("shutdown signal received, cancelling")
		cancel()
	}()

	lookup := func(symbol string) (model.SymbolSpec, bool) {
		spec, ok := specs[symbol]
		return spec, ok
	}

	tradeFunc := func(ctx context.Context, spec model.SymbolSpec, chunks []decimal.Decimal) (orchestrator.Summary, error) {
		return runTrade(ctx, cfg, spec, chunks, venueA, venueB, quotes, eventLog, store, alerter, db)
	}

	runner := cli.New(os.Stdin, os.Stdout, lookup, quotes, cfg.MaxSpreadPct, tradeFunc)
	os.Exit(runner.Run(ctx))
}

func runIngest(ctx context.Context, task *ingest.Task, v model.Venue) {
	if err := task.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("venue", string(v)).Msg("ingestion task exited")
	}
}

// runTrade assembles one trade's per-chunk engine stack and runs it
// through the orchestrator. A fresh placement/management/resolver/
// reconcile stack is built per trade since each is scoped to one
// symbol's spec and gateways.
func runTrade(ctx context.Context, cfg *config.Config, spec model.SymbolSpec, chunks []decimal.Decimal,
	venueA, venueB venue.Gateway, quotes oracle.Oracle, eventLog eventlog.Log, store orderstore.Store, alerter alert.Alerter, db *dbstore.DB) (orchestrator.Summary, error) {

	placeEngine := placement.New(venueA, venueB, quotes, eventLog, store, alerter, cfg.MaxSpreadPct)
	manageLoop := management.New(venueA, venueB, quotes, eventLog, store, cfg.PollInterval, cfg.ModifyInterval, cfg.MaxSpreadPct)
	resolve := resolver.New(quotes, eventLog, store)
	reconciler := reconcile.New(db, eventLog, quotes, alerter, venueA)

	orch := orchestrator.New(spec, placeEngine, manageLoop.Run, resolve, reconciler, venueA, venueB)
	return orch.ExecuteTrade(ctx, chunks)
}
