package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/orchestrator"
)

type fakeOracle struct {
	quote model.Quote
	err   error
}

func (o *fakeOracle) GetValidatedQuote(ctx context.Context, symbol string) (model.Quote, error) {
	return o.quote, o.err
}

func testSpec() model.SymbolSpec {
	return model.SymbolSpec{
		Asset: "BTC", VenueASymbol: "BTCUSDT", VenueBSymbol: "BTCUSDT",
		QuantityPrecision: 6, PricePrecision: 1,
		TickSize: decimal.NewFromFloat(0.1), MinOrderQuantity: decimal.NewFromFloat(0.01),
	}
}

func testLookup(symbol string) (model.SymbolSpec, bool) {
	if symbol == "BTC" {
		return testSpec(), true
	}
	return model.SymbolSpec{}, false
}

func TestRun_HappyPathExitsSuccess(t *testing.T) {
	in := strings.NewReader("BTC\n0.02\ny\n")
	var out bytes.Buffer
	quotes := &fakeOracle{quote: model.Quote{SpreadPct: decimal.NewFromFloat(0.01)}}
	trade := func(ctx context.Context, spec model.SymbolSpec, chunks []decimal.Decimal) (orchestrator.Summary, error) {
		return orchestrator.Summary{ChunkGroupID: "cg-1", CompletedChunks: 2, TotalChunks: 2}, nil
	}

	r := New(in, &out, testLookup, quotes, decimal.NewFromFloat(0.1), trade)
	code := r.Run(context.Background())

	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out.String(), "cg-1")
}

func TestRun_UnknownSymbolExitsFatal(t *testing.T) {
	in := strings.NewReader("DOGE\n")
	var out bytes.Buffer
	trade := func(ctx context.Context, spec model.SymbolSpec, chunks []decimal.Decimal) (orchestrator.Summary, error) {
		t.Fatal("trade should not be called")
		return orchestrator.Summary{}, nil
	}

	r := New(in, &out, testLookup, &fakeOracle{}, decimal.NewFromFloat(0.1), trade)
	code := r.Run(context.Background())

	assert.Equal(t, ExitFatal, code)
}

func TestRun_EmptySymbolExitsUserCancel(t *testing.T) {
	in := strings.NewReader("\n")
	var out bytes.Buffer
	trade := func(ctx context.Context, spec model.SymbolSpec, chunks []decimal.Decimal) (orchestrator.Summary, error) {
		t.Fatal("trade should not be called")
		return orchestrator.Summary{}, nil
	}

	r := New(in, &out, testLookup, &fakeOracle{}, decimal.NewFromFloat(0.1), trade)
	code := r.Run(context.Background())

	assert.Equal(t, ExitUserCancel, code)
}

func TestRun_BelowMinimumReprompts(t *testing.T) {
	in := strings.NewReader("BTC\n0.001\n0.02\ny\n")
	var out bytes.Buffer
	quotes := &fakeOracle{quote: model.Quote{SpreadPct: decimal.NewFromFloat(0.01)}}
	trade := func(ctx context.Context, spec model.SymbolSpec, chunks []decimal.Decimal) (orchestrator.Summary, error) {
		return orchestrator.Summary{ChunkGroupID: "cg-2", CompletedChunks: 2, TotalChunks: 2}, nil
	}

	r := New(in, &out, testLookup, quotes, decimal.NewFromFloat(0.1), trade)
	code := r.Run(context.Background())

	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out.String(), "below minimum")
}

func TestRun_RemainderAcceptLower(t *testing.T) {
	in := strings.NewReader("BTC\n0.025\nl\ny\n")
	var out bytes.Buffer
	quotes := &fakeOracle{quote: model.Quote{SpreadPct: decimal.NewFromFloat(0.01)}}
	var gotChunks []decimal.Decimal
	trade := func(ctx context.Context, spec model.SymbolSpec, chunks []decimal.Decimal) (orchestrator.Summary, error) {
		gotChunks = chunks
		return orchestrator.Summary{ChunkGroupID: "cg-3", CompletedChunks: len(chunks), TotalChunks: len(chunks)}, nil
	}

	r := New(in, &out, testLookup, quotes, decimal.NewFromFloat(0.1), trade)
	code := r.Run(context.Background())

	require.Equal(t, ExitSuccess, code)
	require.Len(t, gotChunks, 2)
}

func TestRun_SpreadOverrideDeclinedCancels(t *testing.T) {
	in := strings.NewReader("BTC\n0.02\nn\n")
	var out bytes.Buffer
	quotes := &fakeOracle{quote: model.Quote{SpreadPct: decimal.NewFromFloat(5)}}
	trade := func(ctx context.Context, spec model.SymbolSpec, chunks []decimal.Decimal) (orchestrator.Summary, error) {
		t.Fatal("trade should not be called")
		return orchestrator.Summary{}, nil
	}

	r := New(in, &out, testLookup, quotes, decimal.NewFromFloat(0.1), trade)
	code := r.Run(context.Background())

	assert.Equal(t, ExitUserCancel, code)
}

func TestRun_FinalGoDeclinedCancels(t *testing.T) {
	in := strings.NewReader("BTC\n0.02\nn\n")
	var out bytes.Buffer
	quotes := &fakeOracle{quote: model.Quote{SpreadPct: decimal.NewFromFloat(0.01)}}
	trade := func(ctx context.Context, spec model.SymbolSpec, chunks []decimal.Decimal) (orchestrator.Summary, error) {
		t.Fatal("trade should not be called")
		return orchestrator.Summary{}, nil
	}

	r := New(in, &out, testLookup, quotes, decimal.NewFromFloat(0.1), trade)
	code := r.Run(context.Background())

	assert.Equal(t, ExitUserCancel, code)
}

func TestRun_TradeErrorExitsFatalAndReportsPartialProgress(t *testing.T) {
	in := strings.NewReader("BTC\n0.02\ny\n")
	var out bytes.Buffer
	quotes := &fakeOracle{quote: model.Quote{SpreadPct: decimal.NewFromFloat(0.01)}}
	trade := func(ctx context.Context, spec model.SymbolSpec, chunks []decimal.Decimal) (orchestrator.Summary, error) {
		return orchestrator.Summary{CompletedChunks: 1, TotalChunks: 2}, errors.New("spread abort")
	}

	r := New(in, &out, testLookup, quotes, decimal.NewFromFloat(0.1), trade)
	code := r.Run(context.Background())

	assert.Equal(t, ExitFatal, code)
	assert.Contains(t, out.String(), "1/2 chunks completed")
}
