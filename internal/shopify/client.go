package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"reconciliation-service/internal/errs"
	"reconciliation-service/internal/models"
	"reconciliation-service/internal/util"
)

const (
	defaultAPIVersion = "2023-10"
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 5
	backoffBase       = 500 * time.Millisecond
	backoffCap        = 8 * time.Second
)

// ClientOptions are the per-process knobs shared by every tenant's client.
type ClientOptions struct {
	APIVersion     string
	Timeout        time.Duration
	MaxRetries     int
	RateLimitRPS   float64
	RateLimitBurst int
	// BaseURL overrides the https://<shop-domain> base. Tests point it at a
	// local server; production leaves it empty.
	BaseURL string
}

// Client talks to one shop's Admin REST API. Calls are paced by a leaky
// bucket limiter and retried with bounded exponential backoff on transient
// failures; credential rejections fail fast as errs.AuthError.
type Client struct {
	tenantID    string
	baseURL     string
	accessToken string
	apiVersion  string
	maxRetries  int
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewClient builds a client for one tenant's shop connection.
func NewClient(conn models.ShopConnection, opts ClientOptions) *Client {
	if opts.APIVersion == "" {
		opts.APIVersion = defaultAPIVersion
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 2 // the platform's documented REST bucket leak rate
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 4
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		domain := strings.TrimPrefix(conn.ShopDomain, "https://")
		domain = strings.TrimPrefix(domain, "http://")
		domain = strings.TrimSuffix(domain, "/")
		baseURL = "https://" + domain
	}

	return &Client{
		tenantID:    conn.TenantID,
		baseURL:     baseURL,
		accessToken: conn.AccessToken,
		apiVersion:  opts.APIVersion,
		maxRetries:  opts.MaxRetries,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		limiter:     rate.NewLimiter(rate.Limit(opts.RateLimitRPS), opts.RateLimitBurst),
		logger:      util.GetLogger(),
	}
}

// ListOrdersParams filter one orders page. When PageInfo is set the platform
// forbids repeating the original filters; the cursor already encodes them.
type ListOrdersParams struct {
	CreatedAtMin time.Time
	CreatedAtMax time.Time
	UpdatedAtMin time.Time
	UpdatedAtMax time.Time
	Limit        int
	PageInfo     string
}

// ListOrders fetches one page of orders and the cursor for the next one.
// An empty next cursor means the listing is exhausted.
func (c *Client) ListOrders(ctx context.Context, params ListOrdersParams) ([]Order, string, error) {
	q := url.Values{}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.PageInfo != "" {
		q.Set("page_info", params.PageInfo)
	} else {
		q.Set("status", "any")
		if !params.CreatedAtMin.IsZero() {
			q.Set("created_at_min", params.CreatedAtMin.Format(time.RFC3339))
		}
		if !params.CreatedAtMax.IsZero() {
			q.Set("created_at_max", params.CreatedAtMax.Format(time.RFC3339))
		}
		if !params.UpdatedAtMin.IsZero() {
			q.Set("updated_at_min", params.UpdatedAtMin.Format(time.RFC3339))
		}
		if !params.UpdatedAtMax.IsZero() {
			q.Set("updated_at_max", params.UpdatedAtMax.Format(time.RFC3339))
		}
	}

	body, header, err := c.get(ctx, c.endpoint("orders.json"), q)
	if err != nil {
		return nil, "", err
	}

	var envelope ordersEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, "", fmt.Errorf("failed to decode orders page: %w", err)
	}
	return envelope.Orders, nextPageInfo(header.Get("Link")), nil
}

// GetOrderTransactions fetches the order-level transaction list. The orders
// endpoint does not embed these; financial-mode bucketing needs them.
func (c *Client) GetOrderTransactions(ctx context.Context, orderID int64) ([]Transaction, error) {
	body, _, err := c.get(ctx, c.endpoint(fmt.Sprintf("orders/%d/transactions.json", orderID)), nil)
	if err != nil {
		return nil, err
	}

	var envelope transactionsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode transactions for order %d: %w", orderID, err)
	}
	return envelope.Transactions, nil
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/admin/api/%s/%s", c.baseURL, c.apiVersion, path)
}

// get performs one GET with rate limiting and bounded backoff. Retryable:
// transport errors, 429 and 5xx. Fatal without retry: 401/403 (AuthError)
// and every other 4xx.
func (c *Client) get(ctx context.Context, rawURL string, q url.Values) ([]byte, http.Header, error) {
	reqURL := rawURL
	if len(q) > 0 {
		reqURL = rawURL + "?" + q.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Shopify-Access-Token", c.accessToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = err
			util.FetchRetriesTotal.Inc()
			c.logger.Warn("Source API request failed, retrying",
				zap.String("tenant_id", c.tenantID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if attempt < c.maxRetries {
				if err := sleepBackoff(ctx, attempt, 0); err != nil {
					return nil, nil, err
				}
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				lastErr = readErr
				break
			}
			return body, resp.Header, nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			util.AuthFailuresTotal.Inc()
			return nil, nil, &errs.AuthError{TenantID: c.tenantID, StatusCode: resp.StatusCode}

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("source API returned status %d", resp.StatusCode)

		default:
			return nil, nil, fmt.Errorf("source API returned status %d: %s", resp.StatusCode, snippet(body))
		}

		util.FetchRetriesTotal.Inc()
		c.logger.Warn("Source API returned retryable status",
			zap.String("tenant_id", c.tenantID),
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt))
		if attempt < c.maxRetries {
			if err := sleepBackoff(ctx, attempt, retryAfter(resp.Header)); err != nil {
				return nil, nil, err
			}
		}
	}

	return nil, nil, &errs.TransientFetchError{Attempts: c.maxRetries, Err: lastErr}
}

// sleepBackoff waits base*2^(attempt-1) capped at backoffCap, or the
// server-requested delay when it is longer, honoring ctx cancellation.
func sleepBackoff(ctx context.Context, attempt int, serverDelay time.Duration) error {
	delay := backoffBase << (attempt - 1)
	if delay > backoffCap {
		delay = backoffCap
	}
	if serverDelay > delay {
		delay = serverDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// nextPageInfo extracts the page_info cursor from the rel="next" entry of a
// Link header. Returns "" on the last page.
func nextPageInfo(link string) string {
	if link == "" {
		return ""
	}
	for _, part := range strings.Split(link, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start < 0 || end < 0 || end <= start+1 {
			continue
		}
		u, err := url.Parse(part[start+1 : end])
		if err != nil {
			continue
		}
		return u.Query().Get("page_info")
	}
	return ""
}

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
