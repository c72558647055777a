package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"nexaview/pkg/logging"
	"nexaview/pkg/metrics"
	"nexaview/pkg/models"
)

var (
	ErrThrottled   = errors.New("balance endpoint throttled")
	ErrUnavailable = errors.New("balance endpoint unavailable")
	ErrMalformed   = errors.New("malformed balance payload")
)

// Balance is the normalized balance payload served by the proxy.
type Balance struct {
	Confirmed   int64 `json:"balance"`
	Unconfirmed int64 `json:"unconfirmed"`
}

// Total sums confirmed and unconfirmed minor units.
func (b Balance) Total() int64 { return b.Confirmed + b.Unconfirmed }

// FetcherOptions configures a Fetcher. Zero values fall back to defaults.
type FetcherOptions struct {
	BaseURL          string
	Timeout          time.Duration
	RateLimit        float64 // requests per second, zero disables limiting
	Burst            int
	ThrottleCooldown time.Duration
	HTTPClient       *http.Client
	Logger           *zap.Logger
	Metrics          *metrics.Metrics
}

// Fetcher reads authoritative balances from the balance proxy.
type Fetcher struct {
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	throttled *cache.Cache
	cooldown  time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	cooldown := opts.ThrottleCooldown
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &Fetcher{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		client:    client,
		limiter:   limiter,
		throttled: cache.New(cooldown, 2*cooldown),
		cooldown:  cooldown,
		logger:    logging.OrNop(opts.Logger),
		metrics:   opts.Metrics,
	}
}

// FetchBalance returns the summed balance for address. The boolean is false
// whenever the balance is unknown; callers must not update stored state then.
func (f *Fetcher) FetchBalance(ctx context.Context, address string) (int64, bool) {
	bal, err := f.Query(ctx, address)
	if err != nil {
		f.logger.Warn("balance fetch failed", zap.String("address", address), zap.Error(err))
		return 0, false
	}
	return bal.Total(), true
}

// Query performs the request and classifies failures.
func (f *Fetcher) Query(ctx context.Context, address string) (Balance, error) {
	if !models.ValidAddress(address) {
		f.metrics.ObserveFetch("invalid")
		return Balance{}, fmt.Errorf("%w: %q", models.ErrInvalidAddress, address)
	}
	if _, cooling := f.throttled.Get(address); cooling {
		f.metrics.ObserveFetch("throttled")
		return Balance{}, ErrThrottled
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			f.metrics.ObserveFetch("error")
			return Balance{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	reqURL := fmt.Sprintf("%s/api/balance?address=%s", f.baseURL, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		f.metrics.ObserveFetch("error")
		return Balance{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.ObserveFetch("error")
		return Balance{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		f.metrics.ObserveFetch("not_found")
		return Balance{}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		f.throttled.Set(address, struct{}{}, f.cooldown)
		f.metrics.ObserveFetch("throttled")
		return Balance{}, ErrThrottled
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		f.metrics.ObserveFetch("error")
		return Balance{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var bal Balance
	if err := json.NewDecoder(resp.Body).Decode(&bal); err != nil {
		f.metrics.ObserveFetch("malformed")
		return Balance{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	f.metrics.ObserveFetch("ok")
	return bal, nil
}
