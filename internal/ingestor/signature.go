package ingestor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign produces a signature header value for body at t.
func Sign(secret string, body []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v1=" + computeSignature(secret, ts, body)
}

func computeSignature(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature accepts a header of the form t=<unix>,v1=<hex>[,v1=<hex>...].
// Any v1 entry may match; several are sent while a secret is rotated.
func VerifySignature(header string, body []byte, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return errors.Wrap(ErrInvalidSignature, "no secret configured")
	}
	if header == "" {
		return errors.Wrap(ErrInvalidSignature, "missing header")
	}

	var ts string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if ts == "" || len(candidates) == 0 {
		return errors.Wrap(ErrInvalidSignature, "malformed header")
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, "malformed timestamp")
	}
	age := now.Sub(time.Unix(unix, 0))
	if age < 0 {
		age = -age
	}
	if tolerance > 0 && age > tolerance {
		return errors.Wrap(ErrInvalidSignature, "timestamp outside tolerance")
	}

	expected := []byte(computeSignature(secret, ts, body))
	for _, candidate := range candidates {
		if hmac.Equal(expected, []byte(strings.ToLower(candidate))) {
			return nil
		}
	}
	return errors.Wrap(ErrInvalidSignature, "no matching signature")
}
