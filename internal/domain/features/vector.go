// Package features computes the fixed 74-slot FeatureVector that is the
// ABI between the candle buffer, the market-condition classifier, the
// predictor, and the metrics repository (spec §3, §4.1, §9).
package features

// MarketPhase enumerates the coarse session position used by the time
// feature family.
type MarketPhase float64

const (
	PhaseOpen  MarketPhase = 0
	PhaseMid   MarketPhase = 1
	PhaseClose MarketPhase = 2
)

// Vector is the named, fixed-arity feature record. Every field is part of
// the frozen ABI shared with the loaded prediction model: adding, removing,
// or renaming a field is a breaking change requiring model retraining, so
// fields are never accessed reflectively in the hot path — Names() below
// exists solely for schema validation against the model's expected list.
type Vector struct {
	// Trend/momentum (14)
	EMA5              float64 `json:"ema_5"`
	EMA12             float64 `json:"ema_12"`
	EMA20             float64 `json:"ema_20"`
	EMA50             float64 `json:"ema_50"`
	EMA200            float64 `json:"ema_200"`
	RSI14             float64 `json:"rsi_14"`
	RSI5              float64 `json:"rsi_5"`
	MACDLine          float64 `json:"macd_line"`
	MACDSignal        float64 `json:"macd_signal"`
	MACDHistogram     float64 `json:"macd_histogram"`
	ADX               float64 `json:"adx"`
	EMACrossFastSlow  float64 `json:"ema_cross_fast_slow"`
	EMACrossSlowLong  float64 `json:"ema_cross_slow_long"`
	PriceVsEMA200ATR  float64 `json:"price_vs_ema200_atr"`

	// Volatility (8)
	ATR14                    float64 `json:"atr_14"`
	ParkinsonVol20           float64 `json:"parkinson_vol_20"`
	GarmanKlassVol           float64 `json:"garman_klass_vol"`
	ReturnStd5               float64 `json:"return_std_5"`
	ReturnStd20              float64 `json:"return_std_20"`
	VolOfVol20               float64 `json:"vol_of_vol_20"`
	RealizedRangePercentile  float64 `json:"realized_range_percentile_78"`
	ATRNormalized            float64 `json:"atr_normalized"`

	// CPR (6)
	CPRPivot        float64 `json:"cpr_pivot"`
	CPRTC           float64 `json:"cpr_tc"`
	CPRBC           float64 `json:"cpr_bc"`
	CPRWidth        float64 `json:"cpr_width"`
	DistToPivotATR  float64 `json:"dist_to_pivot_atr"`
	DistToCPREdgeATR float64 `json:"dist_to_cpr_edge_atr"`

	// VWAP (3)
	VWAP      float64 `json:"vwap"`
	VWAPDistATR float64 `json:"vwap_dist_atr"`
	VWAPSlope float64 `json:"vwap_slope"`

	// Support/Resistance (8)
	NearestResistancePrice   float64 `json:"nearest_resistance_price"`
	NearestResistanceDistPts float64 `json:"nearest_resistance_dist_pts"`
	NearestResistanceDistATR float64 `json:"nearest_resistance_dist_atr"`
	NearestSupportPrice      float64 `json:"nearest_support_price"`
	NearestSupportDistPts    float64 `json:"nearest_support_dist_pts"`
	NearestSupportDistATR    float64 `json:"nearest_support_dist_atr"`
	SwingHighTouchCount      float64 `json:"swing_high_touch_count"`
	SwingLowTouchCount       float64 `json:"swing_low_touch_count"`

	// Microstructure (10)
	TickDirectionRatio     float64 `json:"tick_direction_ratio"`
	OrderFlowImbalance     float64 `json:"order_flow_imbalance"`
	UpperWickRatio         float64 `json:"upper_wick_ratio"`
	LowerWickRatio         float64 `json:"lower_wick_ratio"`
	BodyRatio              float64 `json:"body_ratio"`
	GapFromPrevClose       float64 `json:"gap_from_prev_close"`
	OpeningRangePosition   float64 `json:"opening_range_position"`
	VolumeZScore           float64 `json:"volume_zscore"`
	CumulativeSignedVolume float64 `json:"cumulative_signed_volume"`
	BarRangePct            float64 `json:"bar_range_pct"`

	// Options-derived (5)
	PCR                         float64 `json:"pcr"`
	OISkew                      float64 `json:"oi_skew"`
	IVSkew                      float64 `json:"iv_skew"`
	ATMIVRank                   float64 `json:"atm_iv_rank"`
	InstitutionalActivityProxy  float64 `json:"institutional_activity_proxy"`

	// Time (4)
	Hour         float64 `json:"hour"`
	Minute       float64 `json:"minute"`
	MinuteOfDay  float64 `json:"minute_of_day"`
	MarketPhase  float64 `json:"market_phase"`

	// Aggregate scores (16)
	L1Structure         float64 `json:"l1_structure"`
	L2Options           float64 `json:"l2_options"`
	L3Technical         float64 `json:"l3_technical"`
	L4Blocking          float64 `json:"l4_blocking"`
	L5MultiTimeframe    float64 `json:"l5_multi_timeframe"`
	QualityWeightedSum  float64 `json:"quality_weighted_sum"`
	StructuralBreakFlag float64 `json:"structural_break_flag"`
	FailureWindowFlag   float64 `json:"failure_window_flag"`
	TrendBreakFlag      float64 `json:"trend_break_flag"`
	VolumeBreakFlag     float64 `json:"volume_break_flag"`
	MomentumBreakFlag   float64 `json:"momentum_break_flag"`
	FailureWindowCount  float64 `json:"failure_window_count"`
	RecentLossCount     float64 `json:"recent_loss_count"`
	WinStreak           float64 `json:"win_streak"`
	LossStreak          float64 `json:"loss_streak"`
	SessionPnLProxy     float64 `json:"session_pnl_proxy"`

	// Metadata, not part of the 74-slot numeric schema: set when the
	// options snapshot used to populate the options-derived family is
	// stale beyond 5 minutes (spec §4.1).
	FeatureStale bool `json:"feature_stale"`
}

// Names returns the frozen, ordered list of the 74 numeric feature names.
// The predictor validates a loaded model's expected feature list against
// this slice (spec §4.4, ErrFeatureSchemaMismatch).
func Names() []string {
	return []string{
		"ema_5", "ema_12", "ema_20", "ema_50", "ema_200", "rsi_14", "rsi_5",
		"macd_line", "macd_signal", "macd_histogram", "adx",
		"ema_cross_fast_slow", "ema_cross_slow_long", "price_vs_ema200_atr",

		"atr_14", "parkinson_vol_20", "garman_klass_vol", "return_std_5",
		"return_std_20", "vol_of_vol_20", "realized_range_percentile_78",
		"atr_normalized",

		"cpr_pivot", "cpr_tc", "cpr_bc", "cpr_width", "dist_to_pivot_atr",
		"dist_to_cpr_edge_atr",

		"vwap", "vwap_dist_atr", "vwap_slope",

		"nearest_resistance_price", "nearest_resistance_dist_pts",
		"nearest_resistance_dist_atr", "nearest_support_price",
		"nearest_support_dist_pts", "nearest_support_dist_atr",
		"swing_high_touch_count", "swing_low_touch_count",

		"tick_direction_ratio", "order_flow_imbalance", "upper_wick_ratio",
		"lower_wick_ratio", "body_ratio", "gap_from_prev_close",
		"opening_range_position", "volume_zscore",
		"cumulative_signed_volume", "bar_range_pct",

		"pcr", "oi_skew", "iv_skew", "atm_iv_rank",
		"institutional_activity_proxy",

		"hour", "minute", "minute_of_day", "market_phase",

		"l1_structure", "l2_options", "l3_technical", "l4_blocking",
		"l5_multi_timeframe", "quality_weighted_sum", "structural_break_flag",
		"failure_window_flag", "trend_break_flag", "volume_break_flag",
		"momentum_break_flag", "failure_window_count", "recent_loss_count",
		"win_streak", "loss_streak", "session_pnl_proxy",
	}
}

// ToMap flattens the vector into the 74 named numeric slots, the shape the
// predictor and the repository's JSONB blob both expect.
func (v Vector) ToMap() map[string]float64 {
	return map[string]float64{
		"ema_5": v.EMA5, "ema_12": v.EMA12, "ema_20": v.EMA20, "ema_50": v.EMA50,
		"ema_200": v.EMA200, "rsi_14": v.RSI14, "rsi_5": v.RSI5,
		"macd_line": v.MACDLine, "macd_signal": v.MACDSignal,
		"macd_histogram": v.MACDHistogram, "adx": v.ADX,
		"ema_cross_fast_slow": v.EMACrossFastSlow,
		"ema_cross_slow_long": v.EMACrossSlowLong,
		"price_vs_ema200_atr": v.PriceVsEMA200ATR,

		"atr_14": v.ATR14, "parkinson_vol_20": v.ParkinsonVol20,
		"garman_klass_vol": v.GarmanKlassVol, "return_std_5": v.ReturnStd5,
		"return_std_20": v.ReturnStd20, "vol_of_vol_20": v.VolOfVol20,
		"realized_range_percentile_78": v.RealizedRangePercentile,
		"atr_normalized":               v.ATRNormalized,

		"cpr_pivot": v.CPRPivot, "cpr_tc": v.CPRTC, "cpr_bc": v.CPRBC,
		"cpr_width": v.CPRWidth, "dist_to_pivot_atr": v.DistToPivotATR,
		"dist_to_cpr_edge_atr": v.DistToCPREdgeATR,

		"vwap": v.VWAP, "vwap_dist_atr": v.VWAPDistATR, "vwap_slope": v.VWAPSlope,

		"nearest_resistance_price":    v.NearestResistancePrice,
		"nearest_resistance_dist_pts": v.NearestResistanceDistPts,
		"nearest_resistance_dist_atr": v.NearestResistanceDistATR,
		"nearest_support_price":       v.NearestSupportPrice,
		"nearest_support_dist_pts":    v.NearestSupportDistPts,
		"nearest_support_dist_atr":    v.NearestSupportDistATR,
		"swing_high_touch_count":      v.SwingHighTouchCount,
		"swing_low_touch_count":       v.SwingLowTouchCount,

		"tick_direction_ratio": v.TickDirectionRatio,
		"order_flow_imbalance": v.OrderFlowImbalance,
		"upper_wick_ratio":     v.UpperWickRatio,
		"lower_wick_ratio":     v.LowerWickRatio,
		"body_ratio":           v.BodyRatio,
		"gap_from_prev_close":  v.GapFromPrevClose,
		"opening_range_position":   v.OpeningRangePosition,
		"volume_zscore":            v.VolumeZScore,
		"cumulative_signed_volume": v.CumulativeSignedVolume,
		"bar_range_pct":            v.BarRangePct,

		"pcr": v.PCR, "oi_skew": v.OISkew, "iv_skew": v.IVSkew,
		"atm_iv_rank": v.ATMIVRank,
		"institutional_activity_proxy": v.InstitutionalActivityProxy,

		"hour": v.Hour, "minute": v.Minute, "minute_of_day": v.MinuteOfDay,
		"market_phase": v.MarketPhase,

		"l1_structure": v.L1Structure, "l2_options": v.L2Options,
		"l3_technical": v.L3Technical, "l4_blocking": v.L4Blocking,
		"l5_multi_timeframe":     v.L5MultiTimeframe,
		"quality_weighted_sum":   v.QualityWeightedSum,
		"structural_break_flag":  v.StructuralBreakFlag,
		"failure_window_flag":    v.FailureWindowFlag,
		"trend_break_flag":       v.TrendBreakFlag,
		"volume_break_flag":      v.VolumeBreakFlag,
		"momentum_break_flag":    v.MomentumBreakFlag,
		"failure_window_count":   v.FailureWindowCount,
		"recent_loss_count":      v.RecentLossCount,
		"win_streak":             v.WinStreak,
		"loss_streak":            v.LossStreak,
		"session_pnl_proxy":      v.SessionPnLProxy,
	}
}
