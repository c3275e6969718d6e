package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaymesh/billing/pkg/store"
)

// Client talks to the provisioning panel API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a panel client. The timeout bounds every request.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a panel endpoint is set. An unconfigured client
// fails every call, which callers degrade from.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

type deviceCountResponse struct {
	Total int `json:"total"`
}

// CountDevices returns the number of devices currently provisioned for the
// panel identity. Any failure, including timeout, is returned as an error;
// the caller decides the fallback.
func (c *Client) CountDevices(ctx context.Context, panelUUID string) (int, error) {
	if !c.Configured() {
		return 0, fmt.Errorf("panel is not configured")
	}
	if panelUUID == "" {
		return 0, fmt.Errorf("panel identity is empty")
	}

	url := fmt.Sprintf("%s/api/users/%s/devices", c.baseURL, panelUUID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("device count request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("device count request returned %d: %s", resp.StatusCode, string(body))
	}

	var out deviceCountResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode device count response: %w", err)
	}

	return out.Total, nil
}

// subscriptionStatePayload mirrors the panel's user-update endpoint.
type subscriptionStatePayload struct {
	SubscriptionID int64      `json:"subscription_id"`
	Status         string     `json:"status"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// PushSubscriptionState propagates the subscription's status and renewed
// expiry to the panel.
func (c *Client) PushSubscriptionState(ctx context.Context, sub *store.Subscription) error {
	payload := subscriptionStatePayload{
		SubscriptionID: sub.ID,
		Status:         string(sub.Status),
		ExpiresAt:      sub.NextChargeAt,
	}
	return c.push(ctx, fmt.Sprintf("/api/subscriptions/%d/state", sub.ID), payload)
}

// quotaStatePayload mirrors the panel's traffic-limit endpoint.
type quotaStatePayload struct {
	SubscriptionID int64 `json:"subscription_id"`
	TrafficLimitGB int64 `json:"traffic_limit_gb"`
}

// PushQuotaState propagates the subscription's effective traffic limit to
// the panel.
func (c *Client) PushQuotaState(ctx context.Context, sub *store.Subscription) error {
	payload := quotaStatePayload{
		SubscriptionID: sub.ID,
		TrafficLimitGB: sub.TrafficLimitGB,
	}
	return c.push(ctx, fmt.Sprintf("/api/subscriptions/%d/quota", sub.ID), payload)
}

func (c *Client) push(ctx context.Context, path string, payload interface{}) error {
	if !c.Configured() {
		return fmt.Errorf("panel is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("panel push failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("panel push returned %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
}
