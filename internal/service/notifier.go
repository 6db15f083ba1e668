package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// GatewayNotifierConfig holds configuration for the notification gateway.
type GatewayNotifierConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// GatewayNotifier delivers digests through the platform's notification
// gateway, which fans out to the user's registered channels (push,
// email). The pipeline never talks to end-user devices directly.
type GatewayNotifier struct {
	client *resty.Client
}

// NewGatewayNotifier creates a GatewayNotifier.
func NewGatewayNotifier(cfg *GatewayNotifierConfig) (*GatewayNotifier, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("notification gateway requires a base URL")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.Token)
	}

	return &GatewayNotifier{client: client}, nil
}

type gatewayRequest struct {
	UserID  int64          `json:"user_id"`
	Kind    string         `json:"kind"`
	Payload *DigestPayload `json:"payload"`
}

type gatewayError struct {
	Error string `json:"error"`
}

// Send posts one digest to the gateway. Any non-2xx response is an
// error attributed to that user alone.
func (n *GatewayNotifier) Send(ctx context.Context, userID int64, payload *DigestPayload) error {
	var gwErr gatewayError
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(gatewayRequest{
			UserID:  userID,
			Kind:    string(payload.DigestType),
			Payload: payload,
		}).
		SetError(&gwErr).
		Post("/notifications/dispatch")
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}

	if resp.IsError() {
		msg := gwErr.Error
		if msg == "" {
			msg = resp.Status()
		}
		return fmt.Errorf("gateway rejected dispatch: %s", msg)
	}
	return nil
}
