package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"swapgrid/internal/models"
)

// Client runs parameterised analytical queries against the upstream SQL
// engine. Each execution walks a small state machine:
//
//	idle → submitted (POST execute, receives execution id)
//	submitted → polling (GET status at 2-4s jittered intervals)
//	polling → completed (GET results, at most once)
//	polling → failed / timed-out
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	cache   *resultCache

	pollMin    time.Duration
	pollMax    time.Duration
	maxWait    time.Duration
	maxRetries uint64
}

// Option tweaks client construction.
type Option func(*Client)

// WithCacheTTL sets the in-process response cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.cache = newResultCache(ttl) }
}

// WithMaxWait bounds how long one execution may stay in the polling state.
func WithMaxWait(d time.Duration) Option {
	return func(c *Client) { c.maxWait = d }
}

// WithPollInterval overrides the status poll window (min..max, jittered).
func WithPollInterval(min, max time.Duration) Option {
	return func(c *Client) { c.pollMin, c.pollMax = min, max }
}

// WithHTTPClient swaps the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit overrides the client-side request pacing.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, burst) }
}

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		// Keep well under upstream per-minute limits even during backfills.
		limiter:    rate.NewLimiter(rate.Every(time.Second), 2),
		cache:      newResultCache(5 * time.Minute),
		pollMin:    2 * time.Second,
		pollMax:    4 * time.Second,
		maxWait:    4 * time.Minute,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Row is one upstream result row with every scalar normalised to a string.
type Row map[string]string

// Get returns the raw normalised value for col.
func (r Row) Get(col string) string { return r[col] }

// Time parses the column as an upstream bucket timestamp.
func (r Row) Time(col string) (time.Time, error) { return ParseBucketTime(r[col]) }

// Meta describes one completed execution.
type Meta struct {
	ExecutionID     string
	ExecutionTimeMs int64
	TotalRows       int64
}

// QueryResult is the normalised result set of one execution.
type QueryResult struct {
	Rows []Row
	Meta Meta
}

// Run executes queryID with params, consulting the in-process cache first.
func (c *Client) Run(ctx context.Context, queryID int, params map[string]any) (*QueryResult, error) {
	key := cacheKey(queryID, params)
	if res, ok := c.cache.get(key); ok {
		return res, nil
	}
	res, err := c.execute(ctx, queryID, params)
	if err != nil {
		return nil, err
	}
	c.cache.set(key, res)
	return res, nil
}

// RunBackfill executes queryID for a historical window, bypassing the cache.
// Backfill windows are never re-requested within a cycle, so caching them
// would only grow the map.
func (c *Client) RunBackfill(ctx context.Context, queryID int, params map[string]any) (*QueryResult, error) {
	return c.execute(ctx, queryID, params)
}

func (c *Client) execute(ctx context.Context, queryID int, params map[string]any) (*QueryResult, error) {
	execID, err := c.submit(ctx, queryID, params)
	if err != nil {
		return nil, err
	}

	state, stErr, err := c.pollUntilTerminal(ctx, execID)
	if err != nil {
		return nil, err
	}
	if state != "QUERY_STATE_COMPLETED" {
		return nil, stErr
	}

	return c.fetchResults(ctx, execID)
}

func (c *Client) submit(ctx context.Context, queryID int, params map[string]any) (string, error) {
	body, _ := json.Marshal(map[string]any{"query_parameters": params})
	url := fmt.Sprintf("%s/api/v1/query/%d/execute", c.baseURL, queryID)

	var execID string
	op := func() error {
		data, err := c.do(ctx, http.MethodPost, url, body)
		if err != nil {
			return err
		}
		var resp struct {
			ExecutionID string `json:"execution_id"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return backoff.Permanent(fmt.Errorf("decode execute response: %w", err))
		}
		if resp.ExecutionID == "" {
			return backoff.Permanent(fmt.Errorf("execute response missing execution_id"))
		}
		execID = resp.ExecutionID
		return nil
	}
	if err := c.retry(ctx, op); err != nil {
		return "", err
	}
	return execID, nil
}

func (c *Client) pollUntilTerminal(ctx context.Context, execID string) (string, error, error) {
	url := fmt.Sprintf("%s/api/v1/execution/%s/status", c.baseURL, execID)
	deadline := time.Now().Add(c.maxWait)

	for {
		if time.Now().After(deadline) {
			return "", nil, fmt.Errorf("%w after %s (execution %s)", ErrQueryTimeout, c.maxWait, execID)
		}

		data, err := c.do(ctx, http.MethodGet, url, nil)
		if err != nil {
			// A transient status poll failure just means "poll again".
			if !IsTransient(err) {
				return "", nil, err
			}
		} else {
			var resp struct {
				State string `json:"state"`
				Error *struct {
					Message string `json:"message"`
					Line    int    `json:"line"`
					Column  int    `json:"column"`
				} `json:"error"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return "", nil, fmt.Errorf("decode status response: %w", err)
			}
			switch resp.State {
			case "QUERY_STATE_COMPLETED":
				return resp.State, nil, nil
			case "QUERY_STATE_FAILED", "QUERY_STATE_CANCELLED":
				qErr := &QueryFailedError{ExecutionID: execID, Message: "execution " + strings.ToLower(strings.TrimPrefix(resp.State, "QUERY_STATE_"))}
				if resp.Error != nil {
					qErr.Message = resp.Error.Message
					qErr.Line = resp.Error.Line
					qErr.Column = resp.Error.Column
				}
				return resp.State, qErr, nil
			}
		}

		// Randomised 2-4s delay spreads poll load across concurrent refreshers.
		jitter := c.pollMin + time.Duration(rand.Int63n(int64(c.pollMax-c.pollMin)+1))
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-time.After(jitter):
		}
	}
}

func (c *Client) fetchResults(ctx context.Context, execID string) (*QueryResult, error) {
	url := fmt.Sprintf("%s/api/v1/execution/%s/results", c.baseURL, execID)

	var raw []byte
	op := func() error {
		data, err := c.do(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		raw = data
		return nil
	}
	if err := c.retry(ctx, op); err != nil {
		return nil, err
	}

	var resp struct {
		ExecutionID string `json:"execution_id"`
		Result      struct {
			Rows     []map[string]any `json:"rows"`
			Metadata struct {
				TotalRowCount       int64 `json:"total_row_count"`
				ExecutionTimeMillis int64 `json:"execution_time_millis"`
			} `json:"metadata"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode results response: %w", err)
	}

	rows := make([]Row, 0, len(resp.Result.Rows))
	for _, m := range resp.Result.Rows {
		row := make(Row, len(m))
		for k, v := range m {
			row[k] = NormalizeScalar(v)
		}
		rows = append(rows, row)
	}

	return &QueryResult{
		Rows: rows,
		Meta: Meta{
			ExecutionID:     execID,
			ExecutionTimeMs: resp.Result.Metadata.ExecutionTimeMillis,
			TotalRows:       resp.Result.Metadata.TotalRowCount,
		},
	}, nil
}

// do issues one HTTP request and maps the response status onto the error
// taxonomy. Transient failures come back as *TransientError so retry loops
// can distinguish them.
func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Dune-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrAuth
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, ErrQuotaExceeded
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{Err: fmt.Errorf("status %s: %s", resp.Status, truncate(data, 200))}
	default:
		return nil, fmt.Errorf("analytics: unexpected status %s: %s", resp.Status, truncate(data, 200))
	}
}

// retry wraps op in a bounded exponential backoff, retrying only transient
// classifications.
func (c *Client) retry(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			log.Printf("[analytics] transient error, will retry: %v", err)
			return err
		}
		return backoff.Permanent(err)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.Retry(wrapped, bo)
}

// cacheKey canonicalises params so logically equal maps share one entry.
func cacheKey(queryID int, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%d", queryID)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, params[k])
	}
	return b.String()
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(NormalizeDecimal(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullDecimal(row Row, col string) decimal.NullDecimal {
	raw, ok := row[col]
	if !ok || strings.TrimSpace(raw) == "" {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: mustDecimal(raw), Valid: true}
}

func truncate(data []byte, n int) string {
	s := string(data)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// ParseSwapRow projects an upstream swap-aggregate row onto the normalised
// bucket record shape. Rows without a token or parseable bucket time are
// rejected; the caller logs one sample and drops them.
func ParseSwapRow(row Row) (models.BucketRecord, error) {
	token := row.Get("token")
	if token == "" {
		token = row.Get("base_token")
	}
	if token == "" {
		return models.BucketRecord{}, fmt.Errorf("row missing token")
	}

	rawBucket := row.Get("bucket_start")
	if rawBucket == "" {
		rawBucket = row.Get("bucket_time")
	}
	bucket, err := ParseBucketTime(rawBucket)
	if err != nil {
		return models.BucketRecord{}, fmt.Errorf("row for %s: %w", token, err)
	}

	rec := models.BucketRecord{
		Token:        token,
		BucketStart:  bucket,
		BaseVolume:   mustDecimal(row.Get("base_volume")),
		TargetVolume: mustDecimal(row.Get("target_volume")),
		High:         mustDecimal(row.Get("high")),
		Low:          mustDecimal(row.Get("low")),
		TradeCount:   mustDecimal(row.Get("trade_count")).IntPart(),
	}

	rec.BuyVolume = nullDecimal(row, "buy_volume")
	rec.SellVolume = nullDecimal(row, "sell_volume")
	rec.AveragePrice = nullDecimal(row, "average_price")
	rec.USDCFees = nullDecimal(row, "usdc_fees")
	rec.TokenFees = nullDecimal(row, "token_fees")
	rec.SellVolumeUSDC = nullDecimal(row, "sell_volume_usdc")

	// Upstream target_volume is canonical; recompute from price only when
	// it arrives as zero and a price is available.
	if rec.TargetVolume.IsZero() && rec.AveragePrice.Valid && rec.AveragePrice.Decimal.IsPositive() {
		rec.TargetVolume = rec.BaseVolume.Mul(rec.AveragePrice.Decimal)
	}

	return rec, nil
}
