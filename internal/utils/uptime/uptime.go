// Package uptime pings a heartbeat url after scheduled work succeeds.
package uptime

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
)

type Client struct {
	http   *resty.Client
	url    string
	logger *logger.Logger
}

// New returns a client that does nothing when url is empty.
func New(url string, logger *logger.Logger) *Client {
	return &Client{
		http:   resty.New().SetTimeout(10 * time.Second),
		url:    url,
		logger: logger,
	}
}

// Ping never fails the caller; problems are logged.
func (c *Client) Ping(ctx context.Context) bool {
	if c == nil || c.url == "" {
		return false
	}

	resp, err := c.http.R().SetContext(ctx).Get(c.url)
	if err != nil {
		c.logger.Error("Failed to call uptime webhook", map[string]string{
			"url":   c.url,
			"error": err.Error(),
		})
		return false
	}
	if resp.IsError() {
		c.logger.Warn("Uptime webhook rejected heartbeat", map[string]string{
			"url":         c.url,
			"status_code": resp.Status(),
		})
		return false
	}

	c.logger.Debug("Called uptime webhook", map[string]string{
		"url":         c.url,
		"status_code": resp.Status(),
	})
	return true
}
