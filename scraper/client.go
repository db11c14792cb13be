package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/retailsnap/go-scrape-iga/config"
)

// shoppingModeContext is the fixed x-shopping-mode header the storefront
// expects on search calls.
const shoppingModeContext = "11111111-1111-1111-1111-111111111111"

// Client issues search requests against the storefront API. One Client is
// used for the whole run; the sessionId query parameter is supplied by the
// caller and stays stable across pages.
type Client struct {
	cfg     *config.Config
	http    *http.Client
	metrics *Metrics
	sleep   func(context.Context, time.Duration)
	rand    *rand.Rand
}

// NewClient builds a Client configured from cfg.
func NewClient(cfg *config.Config, metrics *Metrics) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		metrics: metrics,
		sleep:   sleepCtx,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Client) searchURL() string {
	return fmt.Sprintf("%s/api/storefront/stores/%d/search", c.cfg.BaseURL, c.cfg.StoreID)
}

// SearchPage performs a single search request attempt. The returned Status
// names the outcome; err carries the underlying cause for logging and is nil
// on success.
func (c *Client) SearchPage(ctx context.Context, brandQuery, sessionID string, take, skip int) (map[string]any, Status, error) {
	params := url.Values{}
	params.Set("q", brandQuery)
	params.Set("sessionId", sessionID)
	params.Set("take", strconv.Itoa(take))
	params.Set("skip", strconv.Itoa(skip))
	params.Set("sort", "relevance")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL()+"?"+params.Encode(), nil)
	if err != nil {
		return nil, StatusUnknown, fmt.Errorf("build search request: %w", err)
	}
	c.setHeaders(req)

	c.metrics.IncRequest("search")
	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		return nil, classifyTransportError(err), err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, httpStatus(resp.StatusCode), fmt.Errorf("http status %d", resp.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, StatusInvalidJSON, fmt.Errorf("decode search payload: %w", err)
	}
	return payload, StatusSuccess, nil
}

// FetchSearchPage wraps SearchPage with the retry policy: up to MaxRetries
// attempts, sleeping base*(1+attempt) with jitter between attempts and a
// longer floor after a block signal. Exhaustion returns the last status; no
// error is raised for exhausted retries.
func (c *Client) FetchSearchPage(ctx context.Context, brandQuery, sessionID string, take, skip int) (map[string]any, Status) {
	var payload map[string]any
	status := StatusUnknown

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		var err error
		payload, status, err = c.SearchPage(ctx, brandQuery, sessionID, take, skip)
		if status.OK() {
			return payload, status
		}
		c.metrics.IncError(status)

		if ctx.Err() != nil {
			return nil, status
		}

		delay := c.backoff(attempt, status)
		slog.Warn("search request failed",
			slog.String("status", string(status)),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", c.cfg.MaxRetries),
			slog.Duration("sleep", delay),
			slog.Any("error", err),
		)
		if attempt+1 < c.cfg.MaxRetries {
			c.metrics.IncRetries()
			c.sleep(ctx, delay)
		}
	}

	return payload, status
}

func (c *Client) backoff(attempt int, status Status) time.Duration {
	jitter := 0.8 + c.rand.Float64()*0.8
	delay := time.Duration(float64(c.cfg.RetryBackoff) * float64(1+attempt) * jitter)

	// A block signal gets a longer floor to avoid hammering a 403 loop.
	if status.Blocked() && c.cfg.BlockBackoff > 0 {
		floor := c.cfg.BlockBackoff + time.Duration(c.rand.Float64()*float64(5*time.Second))
		if delay < floor {
			delay = floor
		}
	}
	return delay
}

// PageDelay sleeps a jittered politeness interval between successive pages.
func (c *Client) PageDelay(ctx context.Context) {
	span := c.cfg.PageDelayMax - c.cfg.PageDelayMin
	delay := c.cfg.PageDelayMin
	if span > 0 {
		delay += time.Duration(c.rand.Int63n(int64(span)))
	}
	if delay > 0 {
		c.sleep(ctx, delay)
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("accept", "*/*")
	req.Header.Set("user-agent", c.cfg.UserAgent)
	req.Header.Set("referer", c.cfg.BaseURL+"/")
	req.Header.Set("x-shopping-mode", shoppingModeContext)

	req.AddCookie(&http.Cookie{Name: "iga-shop.retailerStoreId", Value: strconv.Itoa(c.cfg.StoreID)})
	req.AddCookie(&http.Cookie{Name: "iga-shop.shoppingMode", Value: c.cfg.ShoppingMode})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
