package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"ForecastMCP/internal/domain/models"

	"gonum.org/v1/gonum/stat"
)

// Column names produced by BuildMatrix, in model priority order.
const (
	LogReturnLag1  = "log_return_lag1"
	VolumeChange   = "volume_change"
	Volatility8h   = "volatility_8h"
	VaderSentiment = "vader_sentiment"
	RSI14          = "rsi_14"
	MACD           = "macd"
	BollingerWidth = "bollinger_width"
)

var Columns = []string{LogReturnLag1, VolumeChange, Volatility8h, VaderSentiment, RSI14, MACD, BollingerWidth}

// ComputeLogReturns computes r_t = ln(C_t / C_{t-1}) aligned with candles;
// index 0 and any bar with a non-positive close are NaN.
func ComputeLogReturns(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	if len(candles) == 0 {
		return out
	}
	out[0] = math.NaN()
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Close, candles[i].Close
		if prev <= 0 || cur <= 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = math.Log(cur / prev)
	}
	return out
}

// RollingVolatility is the sample standard deviation of the last window returns
// ending at each index; NaN until a full window of finite returns is available.
func RollingVolatility(logReturns []float64, window int) []float64 {
	out := make([]float64, len(logReturns))
	for i := range out {
		out[i] = math.NaN()
		if window < 2 || i+1 < window {
			continue
		}
		w := logReturns[i+1-window : i+1]
		if anyNaN(w) {
			continue
		}
		out[i] = stat.StdDev(w, nil)
	}
	return out
}

// RSI is Wilder's relative strength index over period bars.
func RSI(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	out[period] = rsiValue(gain, loss)

	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		gain = (gain*float64(period-1) + g) / float64(period)
		loss = (loss*float64(period-1) + l) / float64(period)
		out[i] = rsiValue(gain, loss)
	}
	return out
}

func rsiValue(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// EMA is seeded with the first value.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	k := 2 / (float64(period) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// MACDLine is EMA(12) - EMA(26) of closes.
func MACDLine(closes []float64) []float64 {
	fast, slow := EMA(closes, 12), EMA(closes, 26)
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = fast[i] - slow[i]
	}
	return out
}

// BollingerBandWidth is (upper - lower) / middle for a period-bar SMA with k
// population standard deviations.
func BollingerBandWidth(closes []float64, period int, k float64) []float64 {
	out := nanSlice(len(closes))
	if period < 2 {
		return out
	}
	for i := period - 1; i < len(closes); i++ {
		mean, variance := stat.PopMeanVariance(closes[i+1-period:i+1], nil)
		if mean == 0 {
			continue
		}
		out[i] = 2 * k * math.Sqrt(variance) / mean
	}
	return out
}

// ParseTimeframe understands Go durations plus a "d" day suffix.
func ParseTimeframe(tf string) (time.Duration, error) {
	tf = strings.TrimSpace(tf)
	if strings.HasSuffix(tf, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(tf, "d"))
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid timeframe %q", tf)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(tf)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	return d, nil
}

// VolatilityWindow is how many bars span eight hours, never fewer than three.
func VolatilityWindow(tf string) int {
	d, err := ParseTimeframe(tf)
	if err != nil {
		return 3
	}
	n := int((8 * time.Hour) / d)
	if n < 3 {
		n = 3
	}
	return n
}

// BuildMatrix derives the candle features for every bar that has both a
// previous bar and a next bar; the target is the next bar's log return.
// sentiment, when non-nil, must hold one score per candle.
func BuildMatrix(candles []models.Candle, sentiment []float64, timeframe string) (x [][]float64, y []float64, names []string, err error) {
	n := len(candles)
	if n < 3 {
		return nil, nil, nil, fmt.Errorf("%w: need at least 3 candles, got %d", models.ErrNotEnoughData, n)
	}
	if sentiment != nil && len(sentiment) != n {
		return nil, nil, nil, fmt.Errorf("%w: %d sentiment scores for %d candles", models.ErrInvalidShape, len(sentiment), n)
	}

	closes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
	}
	rets := ComputeLogReturns(candles)
	vol := RollingVolatility(rets, VolatilityWindow(timeframe))
	rsi := RSI(closes, 14)
	macd := MACDLine(closes)
	bbw := BollingerBandWidth(closes, 20, 2)

	for t := 1; t < n-1; t++ {
		target := rets[t+1]
		if math.IsNaN(target) {
			continue
		}
		s := math.NaN()
		if sentiment != nil {
			s = sentiment[t]
		}
		x = append(x, []float64{
			rets[t],
			ratioChange(candles[t-1].Volume, candles[t].Volume),
			vol[t],
			s,
			rsi[t],
			macd[t],
			bbw[t],
		})
		y = append(y, target)
	}
	if len(x) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: no bar has a usable target", models.ErrNotEnoughData)
	}
	return x, y, append([]string(nil), Columns...), nil
}

func ratioChange(prev, cur float64) float64 {
	if prev == 0 {
		return math.NaN()
	}
	return cur/prev - 1
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func anyNaN(v []float64) bool {
	for _, f := range v {
		if math.IsNaN(f) {
			return true
		}
	}
	return false
}
