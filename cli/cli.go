// Package cli implements the single interactive trade-entry command
// spec.md §6 describes: symbol/quantity prompts, the remainder
// dialogue, spread-override confirmation, and the final go/no-go.
// Uses bufio.Scanner rather than a third-party prompt library because
// none of the example repos use one for interactive stdin (a pattern
// deliberately kept from stdlib; see DESIGN.md).
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/chunker"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/hedgeerrors"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/oracle"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/orchestrator"
)

// ExitCode values per spec.md §6.
const (
	ExitSuccess    = 0
	ExitFatal      = 1
	ExitUserCancel = 130
)

// SpecLookup resolves a symbol to its static configuration.
type SpecLookup func(symbol string) (model.SymbolSpec, bool)

// Runner drives the interactive session.
type Runner struct {
	in           *bufio.Scanner
	out          io.Writer
	lookup       SpecLookup
	quotes       oracle.Oracle
	maxSpreadPct decimal.Decimal
	trade        func(ctx context.Context, spec model.SymbolSpec, chunks []decimal.Decimal) (orchestrator.Summary, error)
}

// New builds a Runner reading prompts from in and writing to out.
func New(in io.Reader, out io.Writer, lookup SpecLookup, quotes oracle.Oracle, maxSpreadPct decimal.Decimal, trade func(ctx context.Context, spec model.SymbolSpec, chunks []decimal.Decimal) (orchestrator.Summary, error)) *Runner {
	return &Runner{in: bufio.NewScanner(in), out: out, lookup: lookup, quotes: quotes, maxSpreadPct: maxSpreadPct, trade: trade}
}

// Run executes one interactive trade session and returns the process
// exit code to use.
func (r *Runner) Run(ctx context.Context) int {
	symbol, ok := r.promptSymbol()
	if !ok {
		return ExitUserCancel
	}

	spec, found := r.lookup(symbol)
	if !found {
		fmt.Fprintf(r.out, "unknown symbol %q\n", symbol)
		return ExitFatal
	}

	chunks, ok := r.promptQuantity(spec)
	if !ok {
		return ExitUserCancel
	}

	if !r.confirmSpread(ctx, spec) {
		return ExitUserCancel
	}

	if !r.confirmGo(spec, len(chunks)) {
		return ExitUserCancel
	}

	summary, err := r.trade(ctx, spec, chunks)
	if err != nil {
		fmt.Fprintf(r.out, "trade aborted: %v\n", err)
		if summary.CompletedChunks > 0 {
			fmt.Fprintf(r.out, "%d/%d chunks completed before abort\n", summary.CompletedChunks, summary.TotalChunks)
		}
		return ExitFatal
	}

	fmt.Fprintf(r.out, "trade %s complete: %d/%d chunks, top-up status %s\n",
		summary.ChunkGroupID, summary.CompletedChunks, summary.TotalChunks, summary.Reconciliation.TopUpStatus)
	return ExitSuccess
}

func (r *Runner) promptSymbol() (string, bool) {
	fmt.Fprint(r.out, "symbol: ")
	if !r.in.Scan() {
		return "", false
	}
	symbol := strings.ToUpper(strings.TrimSpace(r.in.Text()))
	if symbol == "" {
		return "", false
	}
	return symbol, true
}

// promptQuantity loops the remainder dialogue (accept lower, accept
// upper, re-enter, cancel) until the chunker returns an exact split
// (spec.md §4.4, §6).
func (r *Runner) promptQuantity(spec model.SymbolSpec) ([]decimal.Decimal, bool) {
	for {
		fmt.Fprint(r.out, "quantity: ")
		if !r.in.Scan() {
			return nil, false
		}
		text := strings.TrimSpace(r.in.Text())
		quantity, err := decimal.NewFromString(text)
		if err != nil {
			fmt.Fprintf(r.out, "invalid quantity: %v\n", err)
			continue
		}

		result, err := chunker.Split(spec, quantity)
		if err != nil {
			var verr *hedgeerrors.ValidationError
			if errors.As(err, &verr) {
				fmt.Fprintf(r.out, "%s\n", verr.Error())
				continue
			}
			fmt.Fprintf(r.out, "error: %v\n", err)
			continue
		}

		if result.Remainder == nil {
			return result.Chunks, true
		}

		choice, ok := r.promptRemainder(quantity, *result.Remainder)
		if !ok {
			return nil, false
		}
		switch choice {
		case "lower":
			res, err := chunker.Split(spec, result.Remainder.FloorTotal)
			if err == nil {
				return res.Chunks, true
			}
		case "upper":
			res, err := chunker.Split(spec, result.Remainder.CeilTotal)
			if err == nil {
				return res.Chunks, true
			}
		case "reenter":
			continue
		}
	}
}

func (r *Runner) promptRemainder(requested decimal.Decimal, rem chunker.Remainder) (string, bool) {
	fmt.Fprintf(r.out, "%s does not divide evenly into chunks; choose (l)ower=%s, (u)pper=%s, (r)e-enter, (c)ancel: ",
		requested.String(), rem.FloorTotal.String(), rem.CeilTotal.String())
	if !r.in.Scan() {
		return "", false
	}
	switch strings.ToLower(strings.TrimSpace(r.in.Text())) {
	case "l", "lower":
		return "lower", true
	case "u", "upper":
		return "upper", true
	case "r", "reenter", "re-enter":
		return "reenter", true
	default:
		return "", false
	}
}

// confirmSpread previews the current cross-venue spread and, if it
// already exceeds the configured max, asks the operator to explicitly
// override before committing (spec.md §6's "spread-override
// confirmation on violation"). A preview failure is non-fatal here —
// the placement engine will re-check and fail-fast if it is still bad.
func (r *Runner) confirmSpread(ctx context.Context, spec model.SymbolSpec) bool {
	quote, err := r.quotes.GetValidatedQuote(ctx, spec.Asset)
	if err != nil {
		fmt.Fprintf(r.out, "spread preview unavailable: %v\n", err)
		return true
	}
	if quote.SpreadPct.LessThanOrEqual(r.maxSpreadPct) {
		return true
	}
	fmt.Fprintf(r.out, "current spread %s%% exceeds max %s%%; override and continue? (y/n): ",
		quote.SpreadPct.String(), r.maxSpreadPct.String())
	if !r.in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(r.in.Text()))
	return answer == "y" || answer == "yes"
}

func (r *Runner) confirmGo(spec model.SymbolSpec, chunkCount int) bool {
	fmt.Fprintf(r.out, "place %d chunk(s) for %s? (y/n): ", chunkCount, spec.Asset)
	if !r.in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(r.in.Text()))
	return answer == "y" || answer == "yes"
}
