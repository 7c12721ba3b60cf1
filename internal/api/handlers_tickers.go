package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"swapgrid/internal/models"
)

// priceFractionDigits is the fixed-point precision for rendered prices.
const priceFractionDigits = 12

// Ticker is the public per-market summary row.
type Ticker struct {
	TickerID       string `json:"ticker_id"`
	BaseCurrency   string `json:"base_currency"`
	TargetCurrency string `json:"target_currency"`
	BaseSymbol     string `json:"base_symbol,omitempty"`
	BaseName       string `json:"base_name,omitempty"`
	TargetSymbol   string `json:"target_symbol,omitempty"`
	TargetName     string `json:"target_name,omitempty"`
	PoolID         string `json:"pool_id"`
	LastPrice      string `json:"last_price"`
	BaseVolume     string `json:"base_volume"`
	TargetVolume   string `json:"target_volume"`
	Bid            string `json:"bid"`
	Ask            string `json:"ask"`
	LiquidityInUSD string `json:"liquidity_in_usd"`
	High24h        string `json:"high_24h,omitempty"`
	Low24h         string `json:"low_24h,omitempty"`
	StartDate      string `json:"start_date,omitempty"`
}

// handleTickers renders one ticker per market from the rolling-24h window.
// Markets whose price cannot be determined (no volume in the window) are
// omitted rather than rendered with a null price.
func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	aggregates := s.readAPI.Rolling24h(r.Context(), nil)

	var summaries map[string]models.TokenDailySummary
	if s.repo != nil {
		var err error
		summaries, err = s.repo.DailyAggregates(r.Context(), nil, false)
		if err != nil {
			log.Printf("[api] daily aggregates unavailable for tickers: %v", err)
			summaries = nil
		}
	}

	tickers := make([]Ticker, 0, len(s.markets))
	for _, m := range s.markets {
		agg, ok := aggregates[m.BaseToken]
		if !ok {
			continue
		}
		price, ok := windowPrice(agg)
		if !ok {
			continue
		}
		poolID := m.PoolID
		if poolID == "" {
			poolID = s.tokenPools[m.BaseToken]
		}

		t := Ticker{
			TickerID:       m.BaseToken + "_" + m.QuoteToken,
			BaseCurrency:   m.BaseToken,
			TargetCurrency: m.QuoteToken,
			BaseSymbol:     m.BaseSymbol,
			BaseName:       m.BaseName,
			TargetSymbol:   m.QuoteSymbol,
			TargetName:     m.QuoteName,
			PoolID:         poolID,
			LastPrice:      price.StringFixed(priceFractionDigits),
			BaseVolume:     agg.BaseVolume.String(),
			TargetVolume:   agg.TargetVolume.String(),
			Bid:            price.StringFixed(priceFractionDigits),
			Ask:            price.StringFixed(priceFractionDigits),
			LiquidityInUSD: "0",
		}
		if agg.High.IsPositive() {
			t.High24h = agg.High.String()
		}
		if agg.Low.IsPositive() {
			t.Low24h = agg.Low.String()
		}
		if sum, ok := summaries[m.BaseToken]; ok {
			t.StartDate = sum.FirstDate.Format("2006-01-02")
		}
		tickers = append(tickers, t)
	}

	json.NewEncoder(w).Encode(tickers)
}

// windowPrice derives the volume-weighted price of the window. No volume
// means no price.
func windowPrice(agg models.RollingAggregate) (decimal.Decimal, bool) {
	if !agg.BaseVolume.IsPositive() || !agg.TargetVolume.IsPositive() {
		return decimal.Zero, false
	}
	return agg.TargetVolume.Div(agg.BaseVolume), true
}

// marketDataResponse bundles the three daily series for a date range.
type marketDataResponse struct {
	StartDate   string                   `json:"start_date"`
	EndDate     string                   `json:"end_date"`
	Daily       []models.BucketRecord    `json:"daily"`
	PoolVolumes []models.DailyPoolVolume `json:"pool_volumes"`
	BuySell     []models.DailyBuySell    `json:"buy_sell"`
}

func (s *Server) handleMarketData(w http.ResponseWriter, r *http.Request) {
	start, _, err := parseDateParam(r, "startDate", true)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid parameter", "startDate", err.Error())
		return
	}
	end, _, err := parseDateParam(r, "endDate", true)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid parameter", "endDate", err.Error())
		return
	}
	if end.Before(start) {
		writeError(w, r, http.StatusBadRequest, "Invalid parameter", "endDate", "endDate is before startDate")
		return
	}
	tokens := parseTokensParam(r)
	for _, token := range tokens {
		if !validAddress(token) {
			writeError(w, r, http.StatusBadRequest, "Invalid parameter", "tokens", "not a valid token address: "+token)
			return
		}
	}

	if s.repo == nil {
		writeError(w, r, http.StatusServiceUnavailable, "Storage unavailable", "", "")
		return
	}

	endOfRange := end.Add(24*time.Hour - time.Second)
	daily, err := s.repo.Range(r.Context(), models.GridDaily, start, &endOfRange, tokens)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	pools, err := s.repo.PoolVolumeRange(r.Context(), start, end, tokens)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	buySell, err := s.repo.BuySellRange(r.Context(), start, end, tokens)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	json.NewEncoder(w).Encode(marketDataResponse{
		StartDate:   start.Format("2006-01-02"),
		EndDate:     end.Format("2006-01-02"),
		Daily:       daily,
		PoolVolumes: pools,
		BuySell:     buySell,
	})
}
