package features

import (
	"math"
	"sort"
	"time"

	"github.com/strikerun/strikerun/internal/domain"
	"github.com/strikerun/strikerun/internal/domain/candle"
)

// MinBars is the minimum number of 5-minute candles the engineer needs to
// populate every family without leading-NaN windows (spec §4.1: "at least
// 200 bars of history").
const MinBars = 200

// OptionsSnapshot carries the option-chain-derived inputs the feature
// engineer cannot compute from price alone. AgeSeconds lets the engineer set
// FeatureStale per spec's 5-minute staleness rule.
type OptionsSnapshot struct {
	PCR                        float64
	OISkew                     float64
	IVSkew                     float64
	ATMIVRank                  float64
	InstitutionalActivityProxy float64
	AgeSeconds                 float64
}

// SessionState carries the running-session counters the aggregate-score
// family folds in; the pipeline owns this state across cadence ticks.
type SessionState struct {
	FailureWindowCount int
	RecentLossCount    int
	WinStreak          int
	LossStreak         int
	SessionPnLProxy    float64
}

// Engineer computes the 74-slot feature vector from a candle window plus the
// side inputs that price history alone can't supply. Grounded on the
// RSI/ATR Wilder-smoothing style of the teacher's technical indicators
// package, generalized to the full family list.
type Engineer struct {
	// HistoricalLevels are cached swing levels from prior sessions, merged
	// with intraday swings when locating the nearest support/resistance.
	HistoricalLevels []float64
}

// Compute derives a Vector from the given candle window (oldest first, live
// candle last) at the given wall-clock instant. Returns
// domain.ErrInsufficientData if fewer than MinBars candles are supplied.
func (e Engineer) Compute(bars []candle.Candle, opt OptionsSnapshot, sess SessionState, now time.Time) (Vector, error) {
	if len(bars) < MinBars {
		return Vector{}, domain.ErrInsufficientData
	}

	closes := closesOf(bars)
	highs := highsOf(bars)
	lows := lowsOf(bars)

	var v Vector

	ema5 := ema(closes, 5)
	ema12 := ema(closes, 12)
	ema20 := ema(closes, 20)
	ema50 := ema(closes, 50)
	ema200 := ema(closes, 200)
	v.EMA5, v.EMA12, v.EMA20, v.EMA50, v.EMA200 = last(ema5), last(ema12), last(ema20), last(ema50), last(ema200)

	v.RSI14 = last(rsi(closes, 14))
	v.RSI5 = last(rsi(closes, 5))

	macdLine, macdSignal, macdHist := macd(closes, 12, 26, 9)
	v.MACDLine, v.MACDSignal, v.MACDHistogram = last(macdLine), last(macdSignal), last(macdHist)

	v.ADX = last(adx(highs, lows, closes, 14))

	atr14 := atr(highs, lows, closes, 14)
	v.ATR14 = last(atr14)
	atrNow := v.ATR14
	if atrNow == 0 {
		atrNow = 1
	}

	v.EMACrossFastSlow = (v.EMA20 - v.EMA50) / atrNow
	v.EMACrossSlowLong = (v.EMA50 - v.EMA200) / atrNow
	v.PriceVsEMA200ATR = (closes[len(closes)-1] - v.EMA200) / atrNow

	v.ParkinsonVol20 = parkinsonVol(highs, lows, 20)
	v.GarmanKlassVol = garmanKlassVol(bars, 20)
	rets := logReturns(closes)
	v.ReturnStd5 = stddev(tail(rets, 5))
	v.ReturnStd20 = stddev(tail(rets, 20))
	v.VolOfVol20 = stddev(tail(rollingStd(rets, 5), 20))
	v.RealizedRangePercentile = rangePercentile(bars, 78)
	v.ATRNormalized = atrNow / closes[len(closes)-1]

	pivot, tc, bc, prevHigh, prevLow := prevDayCPR(bars)
	v.CPRPivot, v.CPRTC, v.CPRBC = pivot, tc, bc
	v.CPRWidth = math.Abs(tc - bc)
	v.DistToPivotATR = (closes[len(closes)-1] - pivot) / atrNow
	edge := nearestOf(closes[len(closes)-1], tc, bc)
	v.DistToCPREdgeATR = (closes[len(closes)-1] - edge) / atrNow
	_ = prevHigh
	_ = prevLow

	vwapSeries := sessionVWAP(bars)
	v.VWAP = last(vwapSeries)
	v.VWAPDistATR = (closes[len(closes)-1] - v.VWAP) / atrNow
	v.VWAPSlope = slope(tail(vwapSeries, 6))

	swingHighs, swingLows := swingPoints(bars, 3)
	levels := append(append([]float64{}, e.HistoricalLevels...), swingHighs...)
	levels = append(levels, swingLows...)
	resPrice, resTouch := nearestAbove(closes[len(closes)-1], levels)
	supPrice, supTouch := nearestBelow(closes[len(closes)-1], levels)
	v.NearestResistancePrice = resPrice
	v.NearestResistanceDistPts = resPrice - closes[len(closes)-1]
	v.NearestResistanceDistATR = v.NearestResistanceDistPts / atrNow
	v.NearestSupportPrice = supPrice
	v.NearestSupportDistPts = closes[len(closes)-1] - supPrice
	v.NearestSupportDistATR = v.NearestSupportDistPts / atrNow
	v.SwingHighTouchCount = float64(resTouch)
	v.SwingLowTouchCount = float64(supTouch)

	live := bars[len(bars)-1]
	prev := bars[len(bars)-2]
	rng := live.High - live.Low
	if rng == 0 {
		rng = 1
	}
	v.UpperWickRatio = (live.High - math.Max(live.Open, live.Close)) / rng
	v.LowerWickRatio = (math.Min(live.Open, live.Close) - live.Low) / rng
	v.BodyRatio = math.Abs(live.Close-live.Open) / rng
	v.GapFromPrevClose = (live.Open - prev.Close) / atrNow
	v.OpeningRangePosition = openingRangePosition(bars)
	v.VolumeZScore = zscore(volumesOf(bars), live.Volume)
	v.CumulativeSignedVolume = cumulativeSignedVolume(bars, 20)
	v.BarRangePct = rng / closes[len(closes)-1]
	v.TickDirectionRatio = tickDirectionRatio(closes, 20)
	v.OrderFlowImbalance = v.CumulativeSignedVolume / math.Max(1, sumVolume(bars, 20))

	v.PCR = opt.PCR
	v.OISkew = opt.OISkew
	v.IVSkew = opt.IVSkew
	v.ATMIVRank = opt.ATMIVRank
	v.InstitutionalActivityProxy = opt.InstitutionalActivityProxy
	v.FeatureStale = opt.AgeSeconds > 300

	ist := now
	v.Hour = float64(ist.Hour())
	v.Minute = float64(ist.Minute())
	v.MinuteOfDay = float64(ist.Hour()*60 + ist.Minute())
	v.MarketPhase = float64(marketPhase(ist))

	v.L1Structure = clamp01(0.5 + v.DistToPivotATR*0.1 - math.Abs(v.NearestResistanceDistATR-v.NearestSupportDistATR)*0.05)
	v.L2Options = clamp01(0.5 + (v.IVSkew+v.OISkew)*0.1 - (1-v.PCR)*0.1)
	v.L3Technical = clamp01(0.5 + v.MACDHistogram/atrNow*0.2 + (v.RSI14-50)/100)
	v.L4Blocking = clamp01(1 - v.VolumeZScore*0.05)
	v.L5MultiTimeframe = clamp01(0.5 + v.EMACrossFastSlow*0.2 + v.EMACrossSlowLong*0.1)
	v.QualityWeightedSum = 0.25*v.L1Structure + 0.20*v.L2Options + 0.20*v.L3Technical + 0.20*v.L4Blocking + 0.15*v.L5MultiTimeframe

	v.TrendBreakFlag = flagIf(math.Signbit(v.EMACrossFastSlow) != math.Signbit(ema(closes, 20)[len(ema(closes, 20))-2]-ema(closes, 50)[len(ema(closes, 50))-2]))
	v.VolumeBreakFlag = flagIf(v.VolumeZScore > 3)
	v.MomentumBreakFlag = flagIf(v.RSI14 < 30 || v.RSI14 > 70)
	v.StructuralBreakFlag = flagIf(v.TrendBreakFlag == 1 || v.VolumeBreakFlag == 1)
	v.FailureWindowFlag = flagIf(sess.FailureWindowCount > 0)
	v.FailureWindowCount = float64(sess.FailureWindowCount)
	v.RecentLossCount = float64(sess.RecentLossCount)
	v.WinStreak = float64(sess.WinStreak)
	v.LossStreak = float64(sess.LossStreak)
	v.SessionPnLProxy = sess.SessionPnLProxy

	return v, nil
}

func flagIf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func marketPhase(t time.Time) MarketPhase {
	m := t.Hour()*60 + t.Minute()
	switch {
	case m < 9*60+45:
		return PhaseOpen
	case m > 15*60-15:
		return PhaseClose
	default:
		return PhaseMid
	}
}

func closesOf(bars []candle.Candle) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func highsOf(bars []candle.Candle) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

func lowsOf(bars []candle.Candle) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

func volumesOf(bars []candle.Candle) []int64 {
	out := make([]int64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

func last(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}

func tail[T any](xs []T, n int) []T {
	if n > len(xs) {
		n = len(xs)
	}
	return xs[len(xs)-n:]
}

// ema computes the exponential moving average series, seeding the first
// value with a simple average over the first `period` closes (matches the
// teacher's Wilder-style smoothing seed).
func ema(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) == 0 {
		return out
	}
	if period > len(closes) {
		period = len(closes)
	}
	alpha := 2.0 / (float64(period) + 1)
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += closes[i]
	}
	seed /= float64(period)
	for i := range closes {
		if i < period-1 {
			out[i] = seed
			continue
		}
		if i == period-1 {
			out[i] = seed
			continue
		}
		out[i] = alpha*closes[i] + (1-alpha)*out[i-1]
	}
	return out
}

// rsi is Wilder's RSI, grounded on the teacher's CalculateRSI.
func rsi(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) < period+1 {
		return out
	}
	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gainSum += d
		} else {
			lossSum -= d
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	out[period] = rsiFromAvg(avgGain, avgLoss)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAvg(avgGain, avgLoss)
	}
	return out
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func macd(closes []float64, fast, slow, signalPeriod int) (line, signal, hist []float64) {
	fastEMA := ema(closes, fast)
	slowEMA := ema(closes, slow)
	line = make([]float64, len(closes))
	for i := range closes {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	signal = ema(line, signalPeriod)
	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - signal[i]
	}
	return
}

// atr is Wilder's ATR, grounded on the teacher's CalculateATR.
func atr(highs, lows, closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) < period+1 {
		return out
	}
	trs := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		trs[i] = trueRange(highs[i], lows[i], closes[i-1])
	}
	var sum float64
	for i := 1; i <= period; i++ {
		sum += trs[i]
	}
	avg := sum / float64(period)
	out[period] = avg
	for i := period + 1; i < len(closes); i++ {
		avg = (avg*float64(period-1) + trs[i]) / float64(period)
		out[i] = avg
	}
	return out
}

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// adx approximates Wilder's average directional index using the same
// smoothing approach as atr.
func adx(highs, lows, closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) < period*2 {
		return out
	}
	plusDM := make([]float64, len(closes))
	minusDM := make([]float64, len(closes))
	trs := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		trs[i] = trueRange(highs[i], lows[i], closes[i-1])
	}
	smoothTR := wilderSmooth(trs, period)
	smoothPlus := wilderSmooth(plusDM, period)
	smoothMinus := wilderSmooth(minusDM, period)
	dx := make([]float64, len(closes))
	for i := period; i < len(closes); i++ {
		if smoothTR[i] == 0 {
			continue
		}
		plusDI := 100 * smoothPlus[i] / smoothTR[i]
		minusDI := 100 * smoothMinus[i] / smoothTR[i]
		denom := plusDI + minusDI
		if denom == 0 {
			continue
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / denom
	}
	adxOut := wilderSmooth(dx, period)
	copy(out, adxOut)
	return out
}

func wilderSmooth(xs []float64, period int) []float64 {
	out := make([]float64, len(xs))
	if len(xs) <= period {
		return out
	}
	var sum float64
	for i := 1; i <= period; i++ {
		sum += xs[i]
	}
	out[period] = sum
	for i := period + 1; i < len(xs); i++ {
		out[i] = out[i-1] - out[i-1]/float64(period) + xs[i]
	}
	return out
}

func parkinsonVol(highs, lows []float64, window int) float64 {
	h := tail(highs, window)
	l := tail(lows, window)
	const factor = 1.0 / (4 * 0.6931471805599453) // 1/(4 ln2)
	var sum float64
	for i := range h {
		lr := math.Log(h[i] / l[i])
		sum += lr * lr
	}
	return math.Sqrt(factor * sum / float64(len(h)))
}

func garmanKlassVol(bars []candle.Candle, window int) float64 {
	win := tail(bars, window)
	var sum float64
	for _, b := range win {
		hl := math.Log(b.High / b.Low)
		co := math.Log(b.Close / b.Open)
		sum += 0.5*hl*hl - (2*0.6931471805599453-1)*co*co
	}
	v := sum / float64(len(win))
	if v < 0 {
		v = 0
	}
	return math.Sqrt(v)
}

func logReturns(closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		out[i] = math.Log(closes[i] / closes[i-1])
	}
	return out
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func rollingStd(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		out[i] = stddev(xs[start : i+1])
	}
	return out
}

func rangePercentile(bars []candle.Candle, window int) float64 {
	win := tail(bars, window)
	ranges := make([]float64, len(win))
	for i, b := range win {
		ranges[i] = b.High - b.Low
	}
	sorted := append([]float64{}, ranges...)
	sort.Float64s(sorted)
	current := ranges[len(ranges)-1]
	idx := sort.SearchFloat64s(sorted, current)
	return float64(idx) / float64(len(sorted))
}

// prevDayCPR derives the classical pivot/top-central/bottom-central levels
// from the prior trading day's high/low/close, bucketing candles into
// IST-aligned calendar days.
func prevDayCPR(bars []candle.Candle) (pivot, tc, bc, prevHigh, prevLow float64) {
	const daySeconds = 86400
	today := bars[len(bars)-1].Time / daySeconds
	var prevBars []candle.Candle
	for _, b := range bars {
		if b.Time/daySeconds == today-1 {
			prevBars = append(prevBars, b)
		}
	}
	if len(prevBars) == 0 {
		// Not enough history to see a full prior day; fall back to the
		// earliest available session in the window.
		prevBars = bars[:len(bars)/2]
	}
	high, low := prevBars[0].High, prevBars[0].Low
	close := prevBars[len(prevBars)-1].Close
	for _, b := range prevBars {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	pivot = (high + low + close) / 3
	bc = (high + low) / 2
	tc = pivot + (pivot - bc)
	return pivot, tc, bc, high, low
}

func sessionVWAP(bars []candle.Candle) []float64 {
	out := make([]float64, len(bars))
	var cumPV, cumVol float64
	var sessionDay int64 = -1
	const daySeconds = 86400
	for i, b := range bars {
		day := b.Time / daySeconds
		if day != sessionDay {
			sessionDay = day
			cumPV, cumVol = 0, 0
		}
		typical := (b.High + b.Low + b.Close) / 3
		vol := float64(b.Volume)
		if vol == 0 {
			vol = 1
		}
		cumPV += typical * vol
		cumVol += vol
		out[i] = cumPV / cumVol
	}
	return out
}

func slope(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return (xs[len(xs)-1] - xs[0]) / float64(len(xs)-1)
}

// swingPoints finds local extrema using a symmetric lookback/lookahead
// window of `span` bars on each side.
func swingPoints(bars []candle.Candle, span int) (highs, lows []float64) {
	for i := span; i < len(bars)-span; i++ {
		isHigh, isLow := true, true
		for j := i - span; j <= i+span; j++ {
			if j == i {
				continue
			}
			if bars[j].High >= bars[i].High {
				isHigh = false
			}
			if bars[j].Low <= bars[i].Low {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, bars[i].High)
		}
		if isLow {
			lows = append(lows, bars[i].Low)
		}
	}
	return
}

func nearestAbove(price float64, levels []float64) (float64, int) {
	best := math.Inf(1)
	count := 0
	for _, l := range levels {
		if l <= price {
			continue
		}
		if l < best {
			best = l
		}
	}
	if math.IsInf(best, 1) {
		return price, 0
	}
	for _, l := range levels {
		if math.Abs(l-best) < 1e-6 {
			count++
		}
	}
	return best, count
}

func nearestBelow(price float64, levels []float64) (float64, int) {
	best := math.Inf(-1)
	for _, l := range levels {
		if l >= price {
			continue
		}
		if l > best {
			best = l
		}
	}
	if math.IsInf(best, -1) {
		return price, 0
	}
	count := 0
	for _, l := range levels {
		if math.Abs(l-best) < 1e-6 {
			count++
		}
	}
	return best, count
}

func nearestOf(price, a, b float64) float64 {
	if math.Abs(price-a) < math.Abs(price-b) {
		return a
	}
	return b
}

func openingRangePosition(bars []candle.Candle) float64 {
	const daySeconds = 86400
	live := bars[len(bars)-1]
	day := live.Time / daySeconds
	var high, low float64
	first := true
	barsSeen := 0
	for _, b := range bars {
		if b.Time/daySeconds != day {
			continue
		}
		if barsSeen >= 3 { // first 15 minutes of 5-minute bars
			break
		}
		if first {
			high, low = b.High, b.Low
			first = false
		}
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
		barsSeen++
	}
	if high == low {
		return 0.5
	}
	return clamp01((live.Close - low) / (high - low))
}

func zscore(volumes []int64, current int64) float64 {
	win := volumes
	if len(win) > 20 {
		win = win[len(win)-20:]
	}
	var mean float64
	for _, v := range win {
		mean += float64(v)
	}
	mean /= float64(len(win))
	var ss float64
	for _, v := range win {
		d := float64(v) - mean
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(len(win)))
	if sd == 0 {
		return 0
	}
	return (float64(current) - mean) / sd
}

func cumulativeSignedVolume(bars []candle.Candle, window int) float64 {
	win := tail(bars, window)
	var sum float64
	for _, b := range win {
		sign := 1.0
		if b.Close < b.Open {
			sign = -1.0
		}
		sum += sign * float64(b.Volume)
	}
	return sum
}

func sumVolume(bars []candle.Candle, window int) float64 {
	win := tail(bars, window)
	var sum float64
	for _, b := range win {
		sum += float64(b.Volume)
	}
	return sum
}

func tickDirectionRatio(closes []float64, window int) float64 {
	win := tail(closes, window)
	if len(win) < 2 {
		return 0
	}
	up := 0
	for i := 1; i < len(win); i++ {
		if win[i] > win[i-1] {
			up++
		}
	}
	return float64(up) / float64(len(win)-1)
}
