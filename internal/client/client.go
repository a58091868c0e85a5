// Package client reads transactions from a running escrow-backend over HTTP.
package client

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/dwarvesf/escrow-backend/internal/model"
	"github.com/dwarvesf/escrow-backend/internal/view"
)

type Client struct {
	http *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// GetByWallet satisfies poller.Reader.
func (c *Client) GetByWallet(ctx context.Context, wallet string) ([]model.Transaction, error) {
	var txs []model.Transaction
	var failure view.ErrorResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("wallet", wallet).
		SetResult(&txs).
		SetError(&failure).
		Get("/api/transactions")
	if err != nil {
		return nil, errors.Wrap(err, "get transactions")
	}
	if resp.IsError() {
		if failure.Error != "" {
			return nil, errors.Errorf("get transactions: status %d: %s", resp.StatusCode(), failure.Error)
		}
		return nil, errors.Errorf("get transactions: status %d", resp.StatusCode())
	}
	return txs, nil
}
