// Package indicator computes technical indicator series over OHLCV bars.
// Every indicator returns a series aligned to the input bars, padded with
// NaN while the warm-up window is incomplete.
package indicator

import (
	"math"

	"stratlab/internal/domain"
)

// Series is one indicator output aligned to the input bars. Values are NaN
// where the indicator is undefined.
type Series []float64

// Output maps output names to series. Single-output indicators publish one
// entry under the block id. Multi-output indicators (MACD, BOLLINGER)
// additionally publish "<id>_signal"/"<id>_histogram" or
// "<id>_upper"/"<id>_lower", with the primary line under the bare id.
type Output map[string]Series

// Defined reports whether the series has a usable value at index i.
func (s Series) Defined(i int) bool {
	return i >= 0 && i < len(s) && !math.IsNaN(s[i])
}

// paramSpec describes one required parameter and its allowed range.
type paramSpec struct {
	name     string
	min, max float64
}

var requiredParams = map[domain.IndicatorKind][]paramSpec{
	domain.IndicatorSMA:       {{"period", 1, 10000}},
	domain.IndicatorEMA:       {{"period", 1, 10000}},
	domain.IndicatorRSI:       {{"period", 1, 10000}},
	domain.IndicatorATR:       {{"period", 1, 10000}},
	domain.IndicatorMACD:      {{"fast", 1, 10000}, {"slow", 1, 10000}, {"signal", 1, 10000}},
	domain.IndicatorBollinger: {{"period", 1, 10000}, {"std", 0, 100}},
	domain.IndicatorVWAP:      nil,
}

// ValidateSpec checks that the indicator kind is known and its required
// parameters are present and in range. Returns a *domain.ValidationError
// on failure so problems surface before any execution.
func ValidateSpec(blockID string, spec *domain.IndicatorSpec) error {
	params, ok := requiredParams[spec.Kind]
	if !ok {
		return &domain.ValidationError{BlockID: blockID, Reason: "unknown indicator " + string(spec.Kind)}
	}
	for _, p := range params {
		v, present := spec.Params[p.name]
		if !present {
			return &domain.ValidationError{BlockID: blockID, Reason: "missing param " + p.name}
		}
		if v < p.min || v > p.max || math.IsNaN(v) {
			return &domain.ValidationError{BlockID: blockID, Reason: "param " + p.name + " out of range"}
		}
	}
	return nil
}

// Compute evaluates the indicator for the given block over the bars.
// The spec must already have passed ValidateSpec.
func Compute(blockID string, spec *domain.IndicatorSpec, bars []domain.Bar) Output {
	closes := make([]float64, len(bars))
	for i := range bars {
		closes[i] = bars[i].Close
	}

	out := make(Output)
	switch spec.Kind {
	case domain.IndicatorSMA:
		out[blockID] = SMA(closes, int(spec.Params["period"]))
	case domain.IndicatorEMA:
		out[blockID] = EMA(closes, int(spec.Params["period"]))
	case domain.IndicatorRSI:
		out[blockID] = RSI(closes, int(spec.Params["period"]))
	case domain.IndicatorMACD:
		macd, signal, hist := MACD(closes,
			int(spec.Params["fast"]), int(spec.Params["slow"]), int(spec.Params["signal"]))
		out[blockID] = macd
		out[blockID+"_signal"] = signal
		out[blockID+"_histogram"] = hist
	case domain.IndicatorBollinger:
		upper, middle, lower := Bollinger(closes, int(spec.Params["period"]), spec.Params["std"])
		out[blockID] = middle
		out[blockID+"_upper"] = upper
		out[blockID+"_lower"] = lower
	case domain.IndicatorVWAP:
		out[blockID] = VWAP(bars)
	case domain.IndicatorATR:
		out[blockID] = ATR(bars, int(spec.Params["period"]))
	}
	return out
}

func nanSeries(n int) Series {
	s := make(Series, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// SMA is the arithmetic mean of the trailing period closes. Undefined for
// the first period-1 bars.
func SMA(closes []float64, period int) Series {
	s := nanSeries(len(closes))
	if period <= 0 {
		return s
	}
	var sum float64
	for i, c := range closes {
		sum += c
		if i >= period {
			sum -= closes[i-period]
		}
		if i >= period-1 {
			s[i] = sum / float64(period)
		}
	}
	return s
}

// EMA is seeded with the SMA of the first period closes, then follows the
// recurrence ema[t] = close[t]*k + ema[t-1]*(1-k) with k = 2/(period+1).
func EMA(closes []float64, period int) Series {
	s := nanSeries(len(closes))
	if period <= 0 || len(closes) < period {
		return s
	}
	var seed float64
	for i := 0; i < period; i++ {
		seed += closes[i]
	}
	seed /= float64(period)
	s[period-1] = seed

	k := 2.0 / (float64(period) + 1)
	for i := period; i < len(closes); i++ {
		s[i] = closes[i]*k + s[i-1]*(1-k)
	}
	return s
}

// RSI uses Wilder's smoothed average gain/loss over period bars. When the
// average loss is zero, RSI is 100.
func RSI(closes []float64, period int) Series {
	s := nanSeries(len(closes))
	if period <= 0 || len(closes) <= period {
		return s
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	s[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		s[i] = rsiValue(avgGain, avgLoss)
	}
	return s
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// MACD returns the MACD line (EMA(fast)-EMA(slow)), its signal line
// (EMA of the MACD line), and the histogram (MACD - signal).
func MACD(closes []float64, fast, slow, signal int) (macd, signalLine, histogram Series) {
	n := len(closes)
	macd = nanSeries(n)
	signalLine = nanSeries(n)
	histogram = nanSeries(n)

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	firstMACD := -1
	for i := 0; i < n; i++ {
		if emaFast.Defined(i) && emaSlow.Defined(i) {
			macd[i] = emaFast[i] - emaSlow[i]
			if firstMACD < 0 {
				firstMACD = i
			}
		}
	}
	if firstMACD < 0 {
		return macd, signalLine, histogram
	}

	// Signal line is the EMA of the defined portion of the MACD line.
	sig := EMA(macd[firstMACD:], signal)
	for i, v := range sig {
		signalLine[firstMACD+i] = v
	}
	for i := 0; i < n; i++ {
		if macd.Defined(i) && signalLine.Defined(i) {
			histogram[i] = macd[i] - signalLine[i]
		}
	}
	return macd, signalLine, histogram
}

// Bollinger returns the upper, middle, and lower bands: middle = SMA(period),
// bands = middle ± std × population standard deviation of trailing closes.
func Bollinger(closes []float64, period int, std float64) (upper, middle, lower Series) {
	n := len(closes)
	middle = SMA(closes, period)
	upper = nanSeries(n)
	lower = nanSeries(n)

	for i := period - 1; i < n; i++ {
		mean := middle[i]
		var variance float64
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = mean + std*sd
		lower[i] = mean - std*sd
	}
	return upper, middle, lower
}

// VWAP is the cumulative Σ(typicalPrice×volume)/Σ(volume), reset at each
// daily session boundary (UTC calendar date of the bar timestamp).
func VWAP(bars []domain.Bar) Series {
	s := nanSeries(len(bars))
	var sumPV, sumV float64
	var day int
	for i, b := range bars {
		d := b.Timestamp.UTC().Year()*1000 + b.Timestamp.UTC().YearDay()
		if i == 0 || d != day {
			sumPV, sumV = 0, 0
			day = d
		}
		typical := (b.High + b.Low + b.Close) / 3
		sumPV += typical * float64(b.Volume)
		sumV += float64(b.Volume)
		if sumV > 0 {
			s[i] = sumPV / sumV
		}
	}
	return s
}

// ATR is the Wilder average of the true range:
// TR = max(high-low, |high-prevClose|, |low-prevClose|).
func ATR(bars []domain.Bar, period int) Series {
	s := nanSeries(len(bars))
	if period <= 0 || len(bars) <= period {
		return s
	}

	tr := make([]float64, len(bars))
	tr[0] = bars[0].High - bars[0].Low
	for i := 1; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - prevClose)
		lc := math.Abs(bars[i].Low - prevClose)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	// Seed with the simple average of the first period true ranges
	// (skipping tr[0], which has no previous close), then apply Wilder
	// smoothing.
	var seed float64
	for i := 1; i <= period; i++ {
		seed += tr[i]
	}
	seed /= float64(period)
	s[period] = seed

	for i := period + 1; i < len(bars); i++ {
		s[i] = (s[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return s
}
