package ingestor

import (
	"context"
)

// IIngestor turns indexer webhook deliveries into reconciler observations.
type IIngestor interface {
	// Authenticate checks the delivery signature. It only returns an error when enforcement is on.
	Authenticate(signatureHeader string, body []byte) error
	// Ingest processes every event of a batch; a bad event never aborts the others.
	// The returned error is set only when the envelope itself cannot be decoded.
	Ingest(ctx context.Context, body []byte) (*Summary, error)
}

// MetricsRecorder receives per event and per batch outcomes.
type MetricsRecorder interface {
	RecordWebhookEvent(outcome string)
	RecordWebhookBatch(status string, duration float64)
	RecordCacheOperation(cacheType, operation string)
}
