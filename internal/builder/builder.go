package builder

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/dwarvesf/escrow-backend/internal/model"
	"github.com/dwarvesf/escrow-backend/internal/utils/config"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
)

type Builder struct {
	client *resty.Client
	// submitClient never retries: a resent submit can broadcast twice
	// when the first attempt timed out after reaching the node.
	submitClient *resty.Client
	logger       *logger.Logger
}

func New(appConfig *config.AppConfig, logger *logger.Logger) *Builder {
	client := newClient(appConfig).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			switch r.StatusCode() {
			case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
				return true
			}
			return false
		})

	return &Builder{
		client:       client,
		submitClient: newClient(appConfig),
		logger:       logger,
	}
}

func newClient(appConfig *config.AppConfig) *resty.Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(appConfig.Builder.APIURL, "/")).
		SetTimeout(appConfig.Builder.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if appConfig.Builder.APIKey != "" {
		client.SetAuthToken(appConfig.Builder.APIKey)
	}
	return client
}

func (b *Builder) BuildLock(ctx context.Context, params LockParams) (*UnsignedTx, error) {
	var out UnsignedTx
	if err := b.post(ctx, b.client, "build lock", "/v1/tx/lock", params, &out); err != nil {
		return nil, err
	}
	if out.TxHash == "" || out.Complete == "" {
		return nil, &model.UpstreamError{Op: "build lock", Err: errors.New("incomplete builder response")}
	}
	return &out, nil
}

func (b *Builder) BuildUnlock(ctx context.Context, params UnlockParams) (*UnsignedTx, error) {
	var out UnsignedTx
	if err := b.post(ctx, b.client, "build unlock", "/v1/tx/unlock", params, &out); err != nil {
		return nil, err
	}
	if out.Complete == "" {
		return nil, &model.UpstreamError{Op: "build unlock", Err: errors.New("incomplete builder response")}
	}
	return &out, nil
}

func (b *Builder) Submit(ctx context.Context, signed SignedTx) (string, error) {
	var out submitResponse
	if err := b.post(ctx, b.submitClient, "submit", "/v1/tx/submit", signed, &out); err != nil {
		return "", err
	}
	if out.TxHash == "" {
		return "", &model.UpstreamError{Op: "submit", Err: errors.New("submitter returned no tx hash")}
	}
	return out.TxHash, nil
}

func (b *Builder) Ping(ctx context.Context) error {
	resp, err := b.client.R().SetContext(ctx).Get("/v1/health")
	if err != nil {
		return &model.UpstreamError{Op: "ping", Err: err}
	}
	if resp.IsError() {
		return &model.UpstreamError{Op: "ping", Err: fmt.Errorf("status %d", resp.StatusCode())}
	}
	return nil
}

func (b *Builder) post(ctx context.Context, client *resty.Client, op, path string, body, out interface{}) error {
	start := time.Now()
	resp, err := client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		SetError(&errorResponse{}).
		Post(path)
	if err != nil {
		b.logger.Error(fmt.Sprintf("[Builder][%s] request failed", op), map[string]string{
			"path":     path,
			"duration": time.Since(start).String(),
			"error":    err.Error(),
		})
		return &model.UpstreamError{Op: op, Err: err}
	}

	if resp.IsError() {
		msg := strconv.Itoa(resp.StatusCode())
		if e, ok := resp.Error().(*errorResponse); ok {
			switch {
			case e.Error != "":
				msg = fmt.Sprintf("%d %s", resp.StatusCode(), e.Error)
			case e.Message != "":
				msg = fmt.Sprintf("%d %s", resp.StatusCode(), e.Message)
			}
		}
		b.logger.Error(fmt.Sprintf("[Builder][%s] unexpected status", op), map[string]string{
			"path":     path,
			"status":   strconv.Itoa(resp.StatusCode()),
			"attempts": strconv.Itoa(resp.Request.Attempt),
			"body":     truncate(resp.String(), 256),
		})
		return &model.UpstreamError{Op: op, Err: fmt.Errorf("builder returned status %s", msg)}
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
