// Package whatsapp talks to a GOWA gateway to deliver operator alerts and
// client reminders.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"booking_sync_backend/platform/apperr"
	"booking_sync_backend/platform/config"
	"booking_sync_backend/platform/logger"
	"booking_sync_backend/platform/phone"

	"golang.org/x/time/rate"
)

const (
	sendPath       = "/send/message"
	requestTimeout = 10 * time.Second
	// The gateway drives a single phone session; bursts get the number flagged.
	sendsPerSecond = 1
	sendBurst      = 3
)

// ErrInvalidPhone is returned when the recipient cannot be normalized.
var ErrInvalidPhone = apperr.Validation("whatsapp: recipient phone is not a valid number")

// Client sends messages through a GOWA WhatsApp gateway.
type Client struct {
	endpoint string
	auth     string
	deviceID string
	region   string
	http     *http.Client
	limiter  *rate.Limiter
	log      *logger.Logger
}

type sendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sendResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient returns nil when no gateway is configured; a nil client drops
// messages silently.
func NewClient(cfg config.WhatsAppConfig, log *logger.Logger) *Client {
	base := strings.TrimRight(cfg.GetWhatsAppURL(), "/")
	if base == "" {
		return nil
	}
	return &Client{
		endpoint: base + sendPath,
		auth:     authHeader(cfg.GetWhatsAppKey()),
		deviceID: cfg.GetWhatsAppDeviceID(),
		region:   cfg.GetPhoneRegion(),
		http:     &http.Client{Timeout: requestTimeout},
		limiter:  rate.NewLimiter(sendsPerSecond, sendBurst),
		log:      log,
	}
}

// SendMessage delivers message to phoneNumber, normalized in the configured
// region. Gateway and transport failures are apperr.KindUnavailable.
func (c *Client) SendMessage(ctx context.Context, phoneNumber, message string) error {
	if c == nil {
		return nil
	}

	e164, ok := phone.ParseE164In(phoneNumber, c.region)
	if !ok {
		return ErrInvalidPhone
	}
	recipient := strings.TrimPrefix(e164, "+")
	if err := c.limiter.Wait(ctx); err != nil {
		return apperr.Unavailable("whatsapp: send throttled", err)
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(sendRequest{Phone: recipient, Message: message}); err != nil {
		return fmt.Errorf("encode whatsapp message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Unavailable("whatsapp: gateway unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode >= http.StatusBadRequest {
		return apperr.Unavailable("whatsapp: gateway rejected message",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var out sendResponse
	if json.Unmarshal(raw, &out) == nil && out.Code != "" && !strings.EqualFold(out.Code, "SUCCESS") {
		return apperr.Unavailable("whatsapp: gateway rejected message", fmt.Errorf("%s: %s", out.Code, out.Message))
	}

	c.log.WithContext(ctx).Info("whatsapp: message sent", "phone", masked(recipient))
	return nil
}

func authHeader(key string) string {
	switch {
	case key == "":
		return ""
	case strings.HasPrefix(strings.ToLower(key), "basic "):
		return key
	default:
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(key))
	}
}

// masked keeps the last four digits.
func masked(digits string) string {
	if len(digits) <= 4 {
		return digits
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}
