package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Grid identifies one of the three time grids. Each grid keys records
// by (token, bucket_start) with bucket_start aligned to the grid step.
type Grid string

const (
	GridTenMinute Grid = "10m"
	GridHourly    Grid = "1h"
	GridDaily     Grid = "1d"
)

// Step returns the bucket width of the grid.
func (g Grid) Step() time.Duration {
	switch g {
	case GridTenMinute:
		return 10 * time.Minute
	case GridHourly:
		return time.Hour
	case GridDaily:
		return 24 * time.Hour
	}
	return 10 * time.Minute
}

// Align truncates t down to the grid boundary in UTC.
func (g Grid) Align(t time.Time) time.Time {
	return t.UTC().Truncate(g.Step())
}

// Aligned reports whether t sits exactly on a grid boundary.
func (g Grid) Aligned(t time.Time) bool {
	return g.Align(t).Equal(t.UTC())
}

// Table returns the Postgres table backing the grid.
func (g Grid) Table() string {
	switch g {
	case GridTenMinute:
		return "swap_buckets_10m"
	case GridHourly:
		return "swap_buckets_1h"
	case GridDaily:
		return "swap_buckets_1d"
	}
	return "swap_buckets_10m"
}

// Market is the external identity of a trading venue, supplied by the
// catalogue. Immutable within a refresh cycle.
type Market struct {
	BaseToken     string `json:"base_token" yaml:"base_token"`
	QuoteToken    string `json:"quote_token" yaml:"quote_token"`
	PoolID        string `json:"pool_id" yaml:"pool_id"`
	PoolOwner     string `json:"pool_owner,omitempty" yaml:"pool_owner"`
	BaseSymbol    string `json:"base_symbol,omitempty" yaml:"base_symbol"`
	BaseName      string `json:"base_name,omitempty" yaml:"base_name"`
	QuoteSymbol   string `json:"quote_symbol,omitempty" yaml:"quote_symbol"`
	QuoteName     string `json:"quote_name,omitempty" yaml:"quote_name"`
	BaseDecimals  int    `json:"base_decimals" yaml:"base_decimals"`
	QuoteDecimals int    `json:"quote_decimals" yaml:"quote_decimals"`
}

// BucketRecord is one row in a time grid.
type BucketRecord struct {
	Token        string          `json:"token"`
	BucketStart  time.Time       `json:"bucket_start"`
	BaseVolume   decimal.Decimal `json:"base_volume"`
	TargetVolume decimal.Decimal `json:"target_volume"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	TradeCount   int64           `json:"trade_count"`

	// Extended fields; absent on rows ingested before the extended
	// upstream query was deployed.
	BuyVolume      decimal.NullDecimal `json:"buy_volume,omitempty"`
	SellVolume     decimal.NullDecimal `json:"sell_volume,omitempty"`
	AveragePrice   decimal.NullDecimal `json:"average_price,omitempty"`
	USDCFees       decimal.NullDecimal `json:"usdc_fees,omitempty"`
	TokenFees      decimal.NullDecimal `json:"token_fees,omitempty"`
	SellVolumeUSDC decimal.NullDecimal `json:"sell_volume_usdc,omitempty"`

	IsComplete bool      `json:"is_complete"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Valid reports whether the record may be inserted: key fields present,
// volumes non-negative.
func (r BucketRecord) Valid() bool {
	if r.Token == "" || r.BucketStart.IsZero() {
		return false
	}
	if r.BaseVolume.IsNegative() || r.TargetVolume.IsNegative() {
		return false
	}
	if r.High.IsNegative() || r.Low.IsNegative() || r.TradeCount < 0 {
		return false
	}
	return true
}

// RollingAggregate is the reduction of a set of bucket records:
// sums for volumes and trades, max high, min of positive lows.
type RollingAggregate struct {
	Token        string          `json:"token"`
	BaseVolume   decimal.Decimal `json:"base_volume"`
	TargetVolume decimal.Decimal `json:"target_volume"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	TradeCount   int64           `json:"trade_count"`
}

// Reduce folds records into a RollingAggregate. A zero low means "no
// observation" and is ignored; if every low is zero the result low is zero.
// The fold is commutative and associative so partial re-processing of the
// same buckets converges.
func Reduce(records []BucketRecord) RollingAggregate {
	var agg RollingAggregate
	for _, r := range records {
		if agg.Token == "" {
			agg.Token = r.Token
		}
		agg.BaseVolume = agg.BaseVolume.Add(r.BaseVolume)
		agg.TargetVolume = agg.TargetVolume.Add(r.TargetVolume)
		agg.TradeCount += r.TradeCount
		if r.High.GreaterThan(agg.High) {
			agg.High = r.High
		}
		if r.Low.IsPositive() && (agg.Low.IsZero() || r.Low.LessThan(agg.Low)) {
			agg.Low = r.Low
		}
	}
	return agg
}

// RollUp reduces fine-grid records into one record of the coarser grid.
// Extended fields are summed when present on any input; average price is
// volume-weighted over rows that carry one.
func RollUp(target Grid, bucketStart time.Time, records []BucketRecord) BucketRecord {
	agg := Reduce(records)
	out := BucketRecord{
		Token:        agg.Token,
		BucketStart:  target.Align(bucketStart),
		BaseVolume:   agg.BaseVolume,
		TargetVolume: agg.TargetVolume,
		High:         agg.High,
		Low:          agg.Low,
		TradeCount:   agg.TradeCount,
	}

	sumNull := func(get func(BucketRecord) decimal.NullDecimal) decimal.NullDecimal {
		var sum decimal.Decimal
		any := false
		for _, r := range records {
			if v := get(r); v.Valid {
				sum = sum.Add(v.Decimal)
				any = true
			}
		}
		return decimal.NullDecimal{Decimal: sum, Valid: any}
	}

	out.BuyVolume = sumNull(func(r BucketRecord) decimal.NullDecimal { return r.BuyVolume })
	out.SellVolume = sumNull(func(r BucketRecord) decimal.NullDecimal { return r.SellVolume })
	out.USDCFees = sumNull(func(r BucketRecord) decimal.NullDecimal { return r.USDCFees })
	out.TokenFees = sumNull(func(r BucketRecord) decimal.NullDecimal { return r.TokenFees })
	out.SellVolumeUSDC = sumNull(func(r BucketRecord) decimal.NullDecimal { return r.SellVolumeUSDC })

	var weighted, weight decimal.Decimal
	for _, r := range records {
		if r.AveragePrice.Valid && r.BaseVolume.IsPositive() {
			weighted = weighted.Add(r.AveragePrice.Decimal.Mul(r.BaseVolume))
			weight = weight.Add(r.BaseVolume)
		}
	}
	if weight.IsPositive() {
		out.AveragePrice = decimal.NullDecimal{Decimal: weighted.Div(weight), Valid: true}
	}
	return out
}

// TokenDailySummary is the per-token all-time summary built from the daily grid.
type TokenDailySummary struct {
	Token           string          `json:"token"`
	FirstDate       time.Time       `json:"first_date"`
	LastDate        time.Time       `json:"last_date"`
	TotalBaseVolume decimal.Decimal `json:"total_base_volume"`
	TotalTargetVol  decimal.Decimal `json:"total_target_volume"`
	TotalTrades     int64           `json:"total_trades"`
	AllTimeHigh     decimal.Decimal `json:"all_time_high"`
	AllTimeLow      decimal.Decimal `json:"all_time_low"`
	TradingDays     int             `json:"trading_days"`
	DailyRows       []BucketRecord  `json:"daily_rows,omitempty"`
}

// DailyBuySell is a per-day buy/sell split pulled from the supplementary source.
type DailyBuySell struct {
	Token      string          `json:"token"`
	Date       time.Time       `json:"date"`
	BuyVolume  decimal.Decimal `json:"buy_volume"`
	SellVolume decimal.Decimal `json:"sell_volume"`
	BuyCount   int64           `json:"buy_count"`
	SellCount  int64           `json:"sell_count"`
	IsComplete bool            `json:"is_complete"`
}

// DailyPoolVolume is a per-day external-pool volume row. Upstream keys these
// by pool owner address; the fetcher resolves owners to base tokens before insert.
type DailyPoolVolume struct {
	Token        string          `json:"token"`
	Date         time.Time       `json:"date"`
	BaseVolume   decimal.Decimal `json:"base_volume"`
	TargetVolume decimal.Decimal `json:"target_volume"`
	TradeCount   int64           `json:"trade_count"`
	IsComplete   bool            `json:"is_complete"`
}

// ServiceStatus is an observability snapshot for one refresher. Not
// authoritative state: the grids in the store are the source of truth.
type ServiceStatus struct {
	Name            string    `json:"name"`
	Initialized     bool      `json:"initialized"`
	Refreshing      bool      `json:"refreshing"`
	Degraded        bool      `json:"degraded"`
	LastRefreshTime time.Time `json:"last_refresh_time"`
	LastError       string    `json:"last_error,omitempty"`
	RecordCount     int64     `json:"record_count"`
}

// HealthSnapshot is one point in the health history ring.
type HealthSnapshot struct {
	Service     string    `json:"service"`
	TakenAt     time.Time `json:"taken_at"`
	Healthy     bool      `json:"healthy"`
	Degraded    bool      `json:"degraded"`
	RecordCount int64     `json:"record_count"`
	LastError   string    `json:"last_error,omitempty"`
}
