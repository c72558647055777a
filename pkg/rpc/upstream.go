package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Upstream queries the public Nexa API that the balance proxy fronts.
type Upstream struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

func NewUpstream(baseURL string, timeout time.Duration) *Upstream {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Upstream{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		userAgent: "nexaview/1.0",
	}
}

// Balance returns the confirmed and unconfirmed balance for address.
// A 404 means the address has never been used and yields a zero balance.
func (u *Upstream) Balance(ctx context.Context, address string) (Balance, error) {
	reqURL := fmt.Sprintf("%s/balance/%s", u.baseURL, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Balance{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", u.userAgent)

	resp, err := u.client.Do(req)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Balance{}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return Balance{}, ErrThrottled
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Balance{}, fmt.Errorf("%w: upstream status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload struct {
		Balance *struct {
			Confirmed   int64 `json:"confirmed"`
			Unconfirmed int64 `json:"unconfirmed"`
		} `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Balance{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload.Balance == nil {
		return Balance{}, nil
	}
	return Balance{Confirmed: payload.Balance.Confirmed, Unconfirmed: payload.Balance.Unconfirmed}, nil
}
