// Package orchestrator implements the Trade Orchestrator (spec.md
// §4.9): owns the chunk-group id, sequences placement → management →
// resolver per chunk of an already-split trade (the CLI runs the
// chunker), and runs the Fee Reconciler after the last chunk. Grounded on the teacher's core.Engine (the single
// place that wires RiskValidator/TradeNotifier interfaces together and
// drives one trade end to end).
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/hedgeerrors"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/management"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/placement"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/reconcile"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/resolver"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/venue"
)

// Summary is returned to the caller (the CLI) once a trade ends,
// successfully or otherwise.
type Summary struct {
	ChunkGroupID    string
	CompletedChunks int
	TotalChunks     int
	Reconciliation  model.Reconciliation
	Aborted         bool
	AbortReason     string
}

// StatsProvider exposes read-only trade progress, e.g. for a CLI
// status line or an operator dashboard query, without handing out the
// orchestrator's mutable internals.
type StatsProvider interface {
	ChunkGroupID() string
	CompletedChunks() int
	TotalChunks() int
}

// Orchestrator drives a single user trade from chunking through
// reconciliation.
type Orchestrator struct {
	spec model.SymbolSpec

	place      *placement.Engine
	manage     func(ctx context.Context, spec model.SymbolSpec, chunkGroup string, sequence int) (management.Outcome, error)
	resolve    *resolver.Resolver
	reconciler *reconcile.Reconciler

	venueA venue.Gateway
	venueB venue.Gateway

	chunkGroupID    string
	totalChunks     int
	completedChunks int
}

// New builds an Orchestrator for one trade. manageFunc is injected
// (rather than a concrete *management.Loop) so tests can substitute a
// fake Phase 1 outcome without a real poll/modify loop.
func New(spec model.SymbolSpec, place *placement.Engine, manageFunc func(ctx context.Context, spec model.SymbolSpec, chunkGroup string, sequence int) (management.Outcome, error), resolve *resolver.Resolver, reconciler *reconcile.Reconciler, venueA, venueB venue.Gateway) *Orchestrator {
	return &Orchestrator{spec: spec, place: place, manage: manageFunc, resolve: resolve, reconciler: reconciler, venueA: venueA, venueB: venueB}
}

func (o *Orchestrator) ChunkGroupID() string { return o.chunkGroupID }
func (o *Orchestrator) CompletedChunks() int { return o.completedChunks }
func (o *Orchestrator) TotalChunks() int     { return o.totalChunks }

// ExecuteTrade runs spec.md §4.9 end to end for a pre-resolved chunk
// list (the chunker/remainder dialogue happens in the CLI before this
// is called, since user interaction is outside the core per spec.md §1).
func (o *Orchestrator) ExecuteTrade(ctx context.Context, chunks []decimal.Decimal) (Summary, error) {
	o.chunkGroupID = uuid.NewString()
	o.totalChunks = len(chunks)
	o.completedChunks = 0

	if err := o.reconciler.Start(ctx, o.chunkGroupID, o.spec.Asset, o.totalChunks); err != nil {
		return Summary{}, fmt.Errorf("start reconciliation: %w", err)
	}

	log.Info().Str("chunk_group", o.chunkGroupID).Int("chunks", o.totalChunks).Str("asset", o.spec.Asset).Msg("trade started")

	for i, quantity := range chunks {
		sequence := i + 1
		if err := o.runChunk(ctx, sequence, quantity); err != nil {
			var spreadErr *hedgeerrors.SpreadError
			var orderErr *hedgeerrors.OrderError
			reason := err.Error()
			if errors.As(err, &spreadErr) || errors.As(err, &orderErr) {
				log.Error().Err(err).Str("chunk_group", o.chunkGroupID).Int("sequence", sequence).Msg("trade aborted")
			}
			rec, finalErr := o.reconciler.Finalize(ctx, o.chunkGroupID, o.spec)
			if finalErr != nil {
				log.Warn().Err(finalErr).Msg("reconciliation finalize failed after abort")
			}
			return Summary{
				ChunkGroupID: o.chunkGroupID, CompletedChunks: o.completedChunks, TotalChunks: o.totalChunks,
				Reconciliation: rec, Aborted: true, AbortReason: reason,
			}, err
		}
		o.completedChunks++
	}

	rec, err := o.reconciler.Finalize(ctx, o.chunkGroupID, o.spec)
	if err != nil {
		return Summary{}, fmt.Errorf("finalize reconciliation: %w", err)
	}

	log.Info().Str("chunk_group", o.chunkGroupID).Msg("trade completed")
	return Summary{
		ChunkGroupID: o.chunkGroupID, CompletedChunks: o.completedChunks, TotalChunks: o.totalChunks,
		Reconciliation: rec,
	}, nil
}

func (o *Orchestrator) runChunk(ctx context.Context, sequence int, quantity decimal.Decimal) error {
	result, err := o.place.Place(ctx, o.spec, o.chunkGroupID, sequence, quantity)
	if err != nil {
		return err
	}
	log.Debug().Str("chunk_group", o.chunkGroupID).Int("sequence", sequence).
		Str("order_a", result.OrderIDA).Str("order_b", result.OrderIDB).Msg("chunk placed")

	outcome, err := o.manage(ctx, o.spec, o.chunkGroupID, sequence)
	if err != nil {
		return err
	}

	if !outcome.BothFilled {
		gw := o.venueA
		if outcome.UnfilledVenue == model.VenueB {
			gw = o.venueB
		}
		key := model.OrderKey{ChunkGroup: o.chunkGroupID, Sequence: sequence, Venue: outcome.UnfilledVenue}
		if err := o.resolve.Resolve(ctx, gw, o.spec, key); err != nil {
			return err
		}
	}

	return o.reconciler.AccountChunk(ctx, o.chunkGroupID, sequence, quantity)
}
