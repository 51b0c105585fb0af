// Package bookingapi is a minimal client for the booking platform's REST API.
package bookingapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"booking_sync_backend/platform/config"
	"booking_sync_backend/platform/logger"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

var (
	// ErrDisabled is returned when no API credentials are configured.
	ErrDisabled = errors.New("booking api disabled")
	// ErrNotFound is returned when the platform does not know the client.
	ErrNotFound = errors.New("booking api: client not found")
)

const defaultTimeout = 10 * time.Second

// Metrics are the counters the platform keeps per client.
type Metrics struct {
	Spend  decimal.Decimal
	Visits int
}

type clientResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Spent  decimal.Decimal `json:"spent"`
		Visits int             `json:"visits"`
	} `json:"data"`
	Meta struct {
		Message string `json:"message"`
	} `json:"meta"`
}

type Client struct {
	baseURL   string
	partner   string
	user      string
	companyID string
	http      *http.Client
	limiter   *rate.Limiter
	log       *logger.Logger
}

// NewClient returns nil when the API is not configured; a nil client
// reports ErrDisabled.
func NewClient(cfg config.BookingAPIConfig, log *logger.Logger) *Client {
	if !cfg.IsBookingAPIEnabled() {
		return nil
	}

	timeout := cfg.GetBookingAPITimeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Inf
	if rps := cfg.GetBookingAPIRateLimit(); rps > 0 {
		limit = rate.Limit(rps)
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.GetBookingAPIURL(), "/"),
		partner:   cfg.GetBookingPartnerToken(),
		user:      cfg.GetBookingUserToken(),
		companyID: cfg.GetBookingCompanyID(),
		http:      &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(limit, 1),
		log:       log,
	}
}

// FetchMetrics loads lifetime spend and visit count for the client.
func (c *Client) FetchMetrics(ctx context.Context, externalID string) (Metrics, error) {
	if c == nil {
		return Metrics{}, ErrDisabled
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Metrics{}, fmt.Errorf("booking api rate limit: %w", err)
	}

	endpoint := fmt.Sprintf("%s/client/%s/%s", c.baseURL, url.PathEscape(c.companyID), url.PathEscape(externalID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Metrics{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.http.Do(req)
	if err != nil {
		return Metrics{}, fmt.Errorf("booking api request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return Metrics{}, ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Metrics{}, fmt.Errorf("booking api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var body clientResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Metrics{}, fmt.Errorf("decode booking api response: %w", err)
	}
	if !body.Success {
		return Metrics{}, fmt.Errorf("booking api error: %s", body.Meta.Message)
	}

	c.log.Debug("booking api metrics fetched", "externalId", externalID, "visits", body.Data.Visits)
	return Metrics{Spend: body.Data.Spent, Visits: body.Data.Visits}, nil
}

func (c *Client) authHeader() string {
	header := "Bearer " + c.partner
	if c.user != "" {
		header += ", User " + c.user
	}
	return header
}
