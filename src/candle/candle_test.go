package candle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"deribit-feed/src/models"
)

func trade(ts int64, p, amount float64) models.Trade {
	return models.Trade{
		InstrumentName: "ETH-PERPETUAL",
		Timestamp:      ts,
		Price:          p,
		Amount:         amount,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, expected string, got decimal.Decimal, msg string) {
	t.Helper()
	require.True(t, dec(expected).Equal(got), "%s: expected %s, got %s", msg, expected, got)
}

func TestAlign(t *testing.T) {
	require.Equal(t, int64(1618934400000), Hour1.Align(1618936720000))
	require.Equal(t, int64(1618929960000), Minute1.Align(1618929985000))
	require.Equal(t, int64(0), Minute1.Align(59999))
	require.Equal(t, int64(60000), Minute1.Align(60000))
	require.Equal(t, int64(1618876800000), Day1.Align(1618936720000))

	// edge case: timestamps before the epoch floor instead of rounding toward zero
	require.Equal(t, int64(-60000), Minute1.Align(-1))
	require.Equal(t, int64(-60000), Minute1.Align(-60000))
	require.Equal(t, int64(-120000), Minute1.Align(-60001))
	require.Equal(t, int64(-3600000), Hour1.Align(-1000))
}

func TestParseResolution(t *testing.T) {
	r, err := ParseResolution(240)
	require.NoError(t, err)
	require.Equal(t, Hour4, r)
	require.Equal(t, 4*time.Hour, r.Duration())
	require.Equal(t, "4h", r.String())
	require.Equal(t, "1d", Day1.String())
	require.Equal(t, "15m", Minute15.String())

	_, err = ParseResolution(7)
	require.Error(t, err)

	for i := 1; i < len(Resolutions); i++ {
		require.Less(t, Resolutions[i-1], Resolutions[i], "resolutions must be ordered")
	}
}

func TestCandleSealing(t *testing.T) {
	log := NewTradeLog("ETH-PERPETUAL")
	chart := log.TradeChart(Minute1)

	prices := []float64{10, 5, 7, 55, 30}
	for i, p := range prices {
		sealed := log.NewTrade(trade(int64(i+1)*1000, p, 10))
		require.Empty(t, sealed, "trade %d should not seal", i)
	}

	current, ok := chart.Latest()
	require.True(t, ok)
	require.Equal(t, int64(0), current.StartTimestamp)
	requireDecimal(t, "10", current.Open, "open")
	requireDecimal(t, "55", current.High, "high")
	requireDecimal(t, "5", current.Low, "low")
	requireDecimal(t, "30", current.Close, "close")
	requireDecimal(t, "50", current.Cost, "cost")
	requireDecimal(t, "1070", current.Volume, "volume")
	require.False(t, current.Sealed)

	sealed := log.NewTrade(trade(61000, 80, 10))
	require.Len(t, sealed, 1)
	require.Equal(t, Minute1, sealed[0].Resolution)

	old := sealed[0].Candle
	require.True(t, old.Sealed)
	requireDecimal(t, "10", old.Open, "sealed open")
	requireDecimal(t, "55", old.High, "sealed high")
	requireDecimal(t, "5", old.Low, "sealed low")
	requireDecimal(t, "30", old.Close, "sealed close")
	requireDecimal(t, "50", old.Cost, "sealed cost")
	require.True(t, old.Low.LessThanOrEqual(old.Open) && old.Open.LessThanOrEqual(old.High))
	require.True(t, old.Low.LessThanOrEqual(old.Close) && old.Close.LessThanOrEqual(old.High))

	next, ok := chart.Latest()
	require.True(t, ok)
	require.Equal(t, int64(60000), next.StartTimestamp)
	for _, v := range []decimal.Decimal{next.Open, next.High, next.Low, next.Close} {
		requireDecimal(t, "80", v, "new candle price")
	}
	requireDecimal(t, "10", next.Cost, "new candle cost")
	require.Equal(t, 2, chart.Len())

	stored, ok := chart.Get(0)
	require.True(t, ok)
	require.True(t, stored.Sealed)
	requireDecimal(t, "30", stored.Close, "stored close")
}

func TestTradeChartIdempotent(t *testing.T) {
	log := NewTradeLog("ETH-PERPETUAL")

	first := log.TradeChart(Minute3)
	for _, r := range []Resolution{Minute1, Minute3, Minute5, Minute1, Minute3, Minute5} {
		log.TradeChart(r)
	}

	require.Equal(t, 3, log.Observers())
	require.Same(t, first, log.TradeChart(Minute3))
	require.Equal(t, []Resolution{Minute1, Minute3, Minute5}, log.Resolutions())
}

func TestResolutionOrderKeptOnRegistration(t *testing.T) {
	log := NewTradeLog("ETH-PERPETUAL")
	for _, r := range []Resolution{Day1, Minute5, Hour1, Minute1, Minute5, Hour4} {
		log.TradeChart(r)
	}
	require.Equal(t, []Resolution{Minute1, Minute5, Hour1, Hour4, Day1}, log.Resolutions())

	// edge case: callers get a copy, the registered order is untouched
	got := log.Resolutions()
	got[0] = Day1
	require.Equal(t, Minute1, log.Resolutions()[0])

	log.NewTrade(trade(10_000, 100, 1))
	sealed := log.NewTrade(trade(90_000_000, 101, 1))
	require.Len(t, sealed, 5)
	for i, r := range []Resolution{Minute1, Minute5, Hour1, Hour4, Day1} {
		require.Equal(t, r, sealed[i].Resolution)
	}
}

func TestUnregisteredResolutionNotAggregated(t *testing.T) {
	log := NewTradeLog("ETH-PERPETUAL")
	log.NewTrade(trade(1000, 10, 1))

	chart := log.TradeChart(Minute5)
	require.Equal(t, 0, chart.Len(), "trades before registration are not replayed")

	log.NewTrade(trade(2000, 11, 1))
	require.Equal(t, 1, chart.Len())
	require.Equal(t, 2, log.TradeCount())

	_, ok := log.Chart(Hour1)
	require.False(t, ok)
}

func TestMultipleResolutionsSealIndependently(t *testing.T) {
	log := NewTradeLog("ETH-PERPETUAL")
	log.TradeChart(Minute5)
	log.TradeChart(Minute1)

	log.NewTrade(trade(10_000, 100, 1))
	sealed := log.NewTrade(trade(70_000, 101, 1))
	require.Len(t, sealed, 1)
	require.Equal(t, Minute1, sealed[0].Resolution)

	sealed = log.NewTrade(trade(310_000, 102, 1))
	require.Len(t, sealed, 2)
	require.Equal(t, Minute1, sealed[0].Resolution)
	require.Equal(t, Minute5, sealed[1].Resolution)

	five, _ := log.Chart(Minute5)
	candles := five.Candles()
	require.Len(t, candles, 2)
	require.Equal(t, int64(0), candles[0].StartTimestamp)
	require.Equal(t, int64(300_000), candles[1].StartTimestamp)
	requireDecimal(t, "2", candles[0].Cost, "five minute cost")
}

func TestLateTradeIgnored(t *testing.T) {
	log := NewTradeLog("ETH-PERPETUAL")
	chart := log.TradeChart(Minute1)

	log.NewTrade(trade(1000, 10, 1))
	log.NewTrade(trade(61000, 20, 1))
	sealed := log.NewTrade(trade(2000, 99, 1))
	require.Empty(t, sealed)

	require.Equal(t, int64(1), chart.Late())
	old, _ := chart.Get(0)
	requireDecimal(t, "10", old.High, "sealed candle untouched")

	latest, _ := chart.Latest()
	requireDecimal(t, "20", latest.High, "open candle untouched")
}

func TestChartLast(t *testing.T) {
	log := NewTradeLog("ETH-PERPETUAL")
	chart := log.TradeChart(Minute1)
	for i := int64(0); i < 5; i++ {
		log.NewTrade(trade(i*60_000, float64(i+1), 1))
	}

	last := chart.Last(2)
	require.Len(t, last, 2)
	require.Equal(t, int64(180_000), last[0].StartTimestamp)
	require.Equal(t, int64(240_000), last[1].StartTimestamp)
	require.Empty(t, chart.Last(0))
	require.Len(t, chart.Last(100), 5)

	info := last[1].Info()
	require.Equal(t, "5", info.Close)
	require.Equal(t, int64(60_000), info.Duration)
	require.False(t, info.Sealed)
}
