package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Options struct {
	MinDTE             int     `yaml:"min_dte"`
	MaxDTE             int     `yaml:"max_dte"`
	MinDelta           float64 `yaml:"min_delta"`
	MaxDelta           float64 `yaml:"max_delta"`
	MaxSpreadCost      float64 `yaml:"max_spread_cost"` // dollars per contract
	MinRewardRisk      float64 `yaml:"min_reward_risk"`
	MinOpenInterest    int     `yaml:"min_open_interest"`
	MaxBidAskSpreadPct float64 `yaml:"max_bid_ask_spread_pct"`
	MinIVRank          float64 `yaml:"min_iv_rank"` // percent
	MaxIVRank          float64 `yaml:"max_iv_rank"` // percent
	MinCallPutSkewPct  float64 `yaml:"min_call_put_skew_pct"`
	MaxThetaPerDay     float64 `yaml:"max_theta_per_day"` // dollars
	MaxVegaExposure    float64 `yaml:"max_vega_exposure"`
	MaxGammaExposure   float64 `yaml:"max_gamma_exposure"`
	MinProbOfProfit    float64 `yaml:"min_prob_of_profit"` // percent
	MaxWidthVsMovePct  float64 `yaml:"max_width_vs_move_pct"`
	DaysBeforeEarnings int     `yaml:"days_before_earnings"`
	DaysBeforeExDiv    int     `yaml:"days_before_ex_div"`
	DTEFromATR         bool    `yaml:"dte_from_atr"`
	ATRCoefficient     float64 `yaml:"atr_coefficient"`
	StrikeOffset       int     `yaml:"strike_offset"`
	SpreadWidth        int     `yaml:"spread_width"`
}

type Risk struct {
	MaxPositions         int               `yaml:"max_positions"`
	MaxDailyTrades       int               `yaml:"max_daily_trades"`
	RiskPerTrade         float64           `yaml:"risk_per_trade"` // fraction of account value
	MaxContractsPerTrade int               `yaml:"max_contracts_per_trade"`
	MaxPortfolioHeat     float64           `yaml:"max_portfolio_heat"`    // percent of account at risk
	MaxSectorExposure    float64           `yaml:"max_sector_exposure"`   // fraction of account value
	MaxIndustryExposure  float64           `yaml:"max_industry_exposure"` // fraction of account value
	MaxDirectionalBias   float64           `yaml:"max_directional_bias"`  // fraction, e.g. 0.70
	MinBuyingPower       float64           `yaml:"min_buying_power"`      // dollars
	StopLossPercentage   float64           `yaml:"stop_loss_percentage"`  // fraction of entry
	TargetRewardRisk     float64           `yaml:"target_reward_risk"`
	SectorMap            map[string]string `yaml:"sector_map"`   // symbol -> sector
	IndustryMap          map[string]string `yaml:"industry_map"` // symbol -> industry
}

type Exits struct {
	MinDaysToExpiry        int     `yaml:"min_days_to_expiry"`
	UseRMultipleExit       bool    `yaml:"use_r_multiple_exit"`
	RMultipleTarget        float64 `yaml:"r_multiple_target"`
	UseTrailingStop        bool    `yaml:"use_trailing_stop"`
	TrailingStopPercentage float64 `yaml:"trailing_stop_percentage"` // fraction
	UseATRTarget           bool    `yaml:"use_atr_target"`
	ATRTargetMultiple      float64 `yaml:"atr_target_multiple"`
	UseFibonacciTarget     bool    `yaml:"use_fibonacci_target"`
	FibonacciTargetLevel   float64 `yaml:"fibonacci_target_level"`
}

type Execution struct {
	Mode                   string  `yaml:"mode"` // paper | live
	CutoffHour             int     `yaml:"cutoff_hour"`
	AllowLateDayEntry      bool    `yaml:"allow_late_day_entry"`
	LateDayEntryMinute     int     `yaml:"late_day_entry_minute"` // within the hour before cutoff
	PriceImprovementFactor float64 `yaml:"price_improvement_factor"`
	MaxQueueAgeMinutes     int     `yaml:"max_queue_age_minutes"` // 0 = queued trades never expire
}

type Errors struct {
	ErrorThreshold          int `yaml:"error_threshold"`
	CircuitBreakerThreshold int `yaml:"circuit_breaker_threshold"`
	CircuitBreakerMinutes   int `yaml:"circuit_breaker_minutes"`
	MaxRecoveryAttempts     int `yaml:"max_recovery_attempts"`
}

type Schedule struct {
	TradingDays      []string `yaml:"trading_days"`
	TradingStartTime string   `yaml:"trading_start_time"` // "09:30"
	TradingEndTime   string   `yaml:"trading_end_time"`   // "16:00"
	Timezone         string   `yaml:"timezone"`
	PollIntervalSecs int      `yaml:"poll_interval_seconds"`
}

type Broker struct {
	Adapter          string `yaml:"adapter"` // sim | gateway
	GatewayURL       string `yaml:"gateway_url"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
	ConnectRetries   int    `yaml:"connect_retries"`
	RequestsPerSec   int    `yaml:"requests_per_sec"`
}

type Alerts struct {
	Enabled         bool   `yaml:"enabled"`
	WebhookURL      string `yaml:"webhook_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	DedupeSeconds   int    `yaml:"dedupe_seconds"`
}

type Root struct {
	LogLevel  string    `yaml:"log_level"`
	Options   Options   `yaml:"options"`
	Risk      Risk      `yaml:"risk"`
	Exits     Exits     `yaml:"exits"`
	Execution Execution `yaml:"execution"`
	Errors    Errors    `yaml:"errors"`
	Schedule  Schedule  `yaml:"schedule"`
	Broker    Broker    `yaml:"broker"`
	Alerts    Alerts    `yaml:"alerts"`
}

// Load reads a YAML config, applies defaults for every unset field and
// validates the result. There is no global config instance; callers pass
// the returned struct to component constructors.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Default returns a config with every field at its default value.
func Default() Root {
	var c Root
	c.applyDefaults()
	return c
}

func (c *Root) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	o := &c.Options
	if o.MinDTE == 0 {
		o.MinDTE = 30
	}
	if o.MaxDTE == 0 {
		o.MaxDTE = 45
	}
	if o.MinDelta == 0 {
		o.MinDelta = 0.30
	}
	if o.MaxDelta == 0 {
		o.MaxDelta = 0.50
	}
	if o.MaxSpreadCost == 0 {
		o.MaxSpreadCost = 500
	}
	if o.MinRewardRisk == 0 {
		o.MinRewardRisk = 1.5
	}
	if o.MinOpenInterest == 0 {
		o.MinOpenInterest = 1000
	}
	if o.MaxBidAskSpreadPct == 0 {
		o.MaxBidAskSpreadPct = 0.5
	}
	if o.MaxIVRank == 0 {
		o.MaxIVRank = 100
	}
	if o.MaxThetaPerDay == 0 {
		o.MaxThetaPerDay = 10.0
	}
	if o.MaxVegaExposure == 0 {
		o.MaxVegaExposure = 0.4
	}
	if o.MaxGammaExposure == 0 {
		o.MaxGammaExposure = 0.4
	}
	if o.MinProbOfProfit == 0 {
		o.MinProbOfProfit = 65.0
	}
	if o.MaxWidthVsMovePct == 0 {
		o.MaxWidthVsMovePct = 150.0
	}
	if o.DaysBeforeEarnings == 0 {
		o.DaysBeforeEarnings = 5
	}
	if o.DaysBeforeExDiv == 0 {
		o.DaysBeforeExDiv = 3
	}
	if o.ATRCoefficient == 0 {
		o.ATRCoefficient = 2.0
	}
	if o.StrikeOffset == 0 {
		o.StrikeOffset = 1
	}
	if o.SpreadWidth == 0 {
		o.SpreadWidth = 1
	}

	r := &c.Risk
	if r.MaxPositions == 0 {
		r.MaxPositions = 5
	}
	if r.MaxDailyTrades == 0 {
		r.MaxDailyTrades = 3
	}
	if r.RiskPerTrade == 0 {
		r.RiskPerTrade = 0.02
	}
	if r.MaxContractsPerTrade == 0 {
		r.MaxContractsPerTrade = 10
	}
	if r.MaxPortfolioHeat == 0 {
		r.MaxPortfolioHeat = 10.0
	}
	if r.MaxSectorExposure == 0 {
		r.MaxSectorExposure = 0.30
	}
	if r.MaxIndustryExposure == 0 {
		r.MaxIndustryExposure = 0.20
	}
	if r.MaxDirectionalBias == 0 {
		r.MaxDirectionalBias = 0.70
	}
	if r.MinBuyingPower == 0 {
		r.MinBuyingPower = 5000
	}
	if r.StopLossPercentage == 0 {
		r.StopLossPercentage = 0.5
	}
	if r.TargetRewardRisk == 0 {
		r.TargetRewardRisk = 1.5
	}

	e := &c.Exits
	if e.MinDaysToExpiry == 0 {
		e.MinDaysToExpiry = 5
	}
	if e.RMultipleTarget == 0 {
		e.RMultipleTarget = 2.0
	}
	if e.TrailingStopPercentage == 0 {
		e.TrailingStopPercentage = 0.2
	}
	if e.ATRTargetMultiple == 0 {
		e.ATRTargetMultiple = 3.0
	}
	if e.FibonacciTargetLevel == 0 {
		e.FibonacciTargetLevel = 1.618
	}

	x := &c.Execution
	if x.Mode == "" {
		x.Mode = "paper"
	}
	if x.CutoffHour == 0 {
		x.CutoffHour = 15
	}
	if x.LateDayEntryMinute == 0 {
		x.LateDayEntryMinute = 45
	}
	if x.PriceImprovementFactor == 0 {
		x.PriceImprovementFactor = 0.4
	}

	er := &c.Errors
	if er.ErrorThreshold == 0 {
		er.ErrorThreshold = 3
	}
	if er.CircuitBreakerThreshold == 0 {
		er.CircuitBreakerThreshold = 5
	}
	if er.CircuitBreakerMinutes == 0 {
		er.CircuitBreakerMinutes = 30
	}
	if er.MaxRecoveryAttempts == 0 {
		er.MaxRecoveryAttempts = 3
	}

	s := &c.Schedule
	if len(s.TradingDays) == 0 {
		s.TradingDays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}
	}
	if s.TradingStartTime == "" {
		s.TradingStartTime = "09:30"
	}
	if s.TradingEndTime == "" {
		s.TradingEndTime = "16:00"
	}
	if s.Timezone == "" {
		s.Timezone = "America/New_York"
	}
	if s.PollIntervalSecs == 0 {
		s.PollIntervalSecs = 30
	}

	b := &c.Broker
	if b.Adapter == "" {
		b.Adapter = "sim"
	}
	if b.GatewayURL == "" {
		b.GatewayURL = "ws://localhost:7497/stream"
	}
	if b.ConnectTimeoutMs == 0 {
		b.ConnectTimeoutMs = 5000
	}
	if b.ConnectRetries == 0 {
		b.ConnectRetries = 3
	}
	if b.RequestsPerSec == 0 {
		b.RequestsPerSec = 40
	}

	a := &c.Alerts
	if a.RateLimitPerMin == 0 {
		a.RateLimitPerMin = 20
	}
	if a.DedupeSeconds == 0 {
		a.DedupeSeconds = 60
	}
}

func (c *Root) validate() error {
	if c.Options.MinDTE > c.Options.MaxDTE {
		return fmt.Errorf("options: min_dte (%d) > max_dte (%d)", c.Options.MinDTE, c.Options.MaxDTE)
	}
	if c.Options.MinDelta > c.Options.MaxDelta {
		return fmt.Errorf("options: min_delta (%.2f) > max_delta (%.2f)", c.Options.MinDelta, c.Options.MaxDelta)
	}
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade >= 1 {
		return fmt.Errorf("risk: risk_per_trade must be in (0,1), got %.4f", c.Risk.RiskPerTrade)
	}
	if c.Risk.MaxDirectionalBias <= 0.5 || c.Risk.MaxDirectionalBias > 1 {
		return fmt.Errorf("risk: max_directional_bias must be in (0.5,1], got %.2f", c.Risk.MaxDirectionalBias)
	}
	if c.Execution.Mode != "paper" && c.Execution.Mode != "live" {
		return fmt.Errorf("execution: mode must be paper or live, got %q", c.Execution.Mode)
	}
	if c.Execution.CutoffHour < 0 || c.Execution.CutoffHour > 23 {
		return fmt.Errorf("execution: cutoff_hour out of range: %d", c.Execution.CutoffHour)
	}
	if f := c.Execution.PriceImprovementFactor; f < 0 || f > 1 {
		return fmt.Errorf("execution: price_improvement_factor must be in [0,1], got %.2f", f)
	}
	if _, err := timeLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule: unknown timezone %q", c.Schedule.Timezone)
	}
	if c.Broker.Adapter != "sim" && c.Broker.Adapter != "gateway" {
		return fmt.Errorf("broker: adapter must be sim or gateway, got %q", c.Broker.Adapter)
	}
	return nil
}
