package telco

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"callbridge/internal/calls"
)

var (
	// ErrRateLimited maps the provider's 429; callers may retry later.
	ErrRateLimited = errors.New("telco: provider rate limited")
	// ErrPaymentRequired maps the provider's 402; retrying cannot help.
	ErrPaymentRequired = errors.New("telco: provider account out of funds")
)

// Client is a REST client for the telephony provider's call-control API.
// It satisfies the calls originator and the injection player contracts.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type originateRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	FlowType string `json:"flow_type"`
}

type originateResponse struct {
	Data struct {
		CallControlID string `json:"call_control_id"`
	} `json:"data"`
}

// Originate dials an outbound call and returns the provider's control id.
func (c *Client) Originate(ctx context.Context, from, to string, flow calls.FlowType) (string, error) {
	body := originateRequest{From: from, To: to, FlowType: string(flow)}
	var out originateResponse
	if err := c.post(ctx, "/v2/calls", body, &out); err != nil {
		return "", err
	}
	if out.Data.CallControlID == "" {
		return "", errors.New("telco: originate response missing call_control_id")
	}
	return out.Data.CallControlID, nil
}

// Play streams a stored audio clip into the live call. The provider reports
// completion via the playback.ended webhook.
func (c *Client) Play(ctx context.Context, callControlID, audioRef string) error {
	path := fmt.Sprintf("/v2/calls/%s/actions/playback_start", callControlID)
	return c.post(ctx, path, map[string]string{"audio_ref": audioRef}, nil)
}

// Bridge joins the call to a second leg.
func (c *Client) Bridge(ctx context.Context, callControlID, otherLegID string) error {
	path := fmt.Sprintf("/v2/calls/%s/actions/bridge", callControlID)
	return c.post(ctx, path, map[string]string{"call_control_id": otherLegID}, nil)
}

// Hangup tears the call down at the provider.
func (c *Client) Hangup(ctx context.Context, callControlID string) error {
	path := fmt.Sprintf("/v2/calls/%s/actions/hangup", callControlID)
	return c.post(ctx, path, struct{}{}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telco: %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, path)
	case resp.StatusCode == http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrPaymentRequired, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("telco: %s returned %d: %s", path, resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("telco: decode %s response: %w", path, err)
	}
	return nil
}
