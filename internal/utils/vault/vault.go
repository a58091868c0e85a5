// Package vault reads service secrets from a HashiCorp Vault KV v2 mount.
package vault

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const defaultTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

type Config struct {
	Addr         string
	KVSecretPath string
	// Role is the kubernetes auth role used when Token is empty.
	Role  string
	Token string
	// TokenPath overrides the service account token location.
	TokenPath string
}

type Client struct {
	http         *resty.Client
	kvSecretPath string
}

type loginResponse struct {
	Auth *struct {
		ClientToken string `json:"client_token"`
	} `json:"auth"`
}

type kvResponse struct {
	Data *struct {
		Data map[string]interface{} `json:"data"`
	} `json:"data"`
}

type errorResponse struct {
	Errors []string `json:"errors"`
}

// New logs in with the kubernetes service account unless a token is given.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Addr == "" || cfg.KVSecretPath == "" {
		return nil, errors.New("vault address and kv secret path are required")
	}

	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.Addr, "/")).
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json"),
		kvSecretPath: strings.Trim(cfg.KVSecretPath, "/"),
	}

	token := cfg.Token
	if token == "" {
		var err error
		token, err = c.login(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	c.http.SetHeader("X-Vault-Token", token)
	return c, nil
}

func (c *Client) login(ctx context.Context, cfg Config) (string, error) {
	path := cfg.TokenPath
	if path == "" {
		path = defaultTokenPath
	}
	jwt, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "read service account token")
	}

	var out loginResponse
	var failure errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"jwt": strings.TrimSpace(string(jwt)), "role": cfg.Role}).
		SetResult(&out).
		SetError(&failure).
		Post("/v1/auth/kubernetes/login")
	if err != nil {
		return "", errors.Wrap(err, "vault login")
	}
	if resp.IsError() {
		return "", fmt.Errorf("vault login failed with status %d: %s", resp.StatusCode(), strings.Join(failure.Errors, "; "))
	}
	if out.Auth == nil || out.Auth.ClientToken == "" {
		return "", errors.New("vault login returned no client token")
	}
	return out.Auth.ClientToken, nil
}

// Secrets returns every string value stored at the configured KV path.
func (c *Client) Secrets(ctx context.Context) (map[string]string, error) {
	var out kvResponse
	var failure errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&failure).
		Get("/v1/" + c.kvSecretPath)
	if err != nil {
		return nil, errors.Wrap(err, "vault kv get")
	}
	if resp.IsError() {
		return nil, fmt.Errorf("vault kv get failed with status %d: %s", resp.StatusCode(), strings.Join(failure.Errors, "; "))
	}
	if out.Data == nil || out.Data.Data == nil {
		return nil, errors.New("vault kv response has no data")
	}

	secrets := make(map[string]string, len(out.Data.Data))
	for key, value := range out.Data.Data {
		if s, ok := value.(string); ok {
			secrets[key] = s
		}
	}
	return secrets, nil
}

func (c *Client) GetKV(ctx context.Context, key string) (string, error) {
	secrets, err := c.Secrets(ctx)
	if err != nil {
		return "", err
	}
	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("secret key %q not found", key)
	}
	return value, nil
}
