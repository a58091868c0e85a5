package ingestor

import (
	"encoding/json"
)

// Envelope is the indexer delivery. Events stay raw so one bad entry does not fail the batch decode.
type Envelope struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	Created int64             `json:"created"`
	Payload []json.RawMessage `json:"payload"`
}

type Event struct {
	Tx      EventTx       `json:"tx"`
	Inputs  []EventInput  `json:"inputs" validate:"required,min=1"`
	Outputs []EventOutput `json:"outputs" validate:"required,min=1"`
}

type EventTx struct {
	Hash string `json:"hash" validate:"required,txhash"`
}

type EventInput struct {
	Address string `json:"address"`
}

type EventOutput struct {
	Address string        `json:"address"`
	Amount  []EventAmount `json:"amount" validate:"required,min=1"`
}

type EventAmount struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

type EventOutcome string

const (
	EventApplied   EventOutcome = "applied"
	EventUnchanged EventOutcome = "unchanged"
	EventDuplicate EventOutcome = "duplicate"
	EventMalformed EventOutcome = "malformed"
	EventFailed    EventOutcome = "failed"
)

// Summary counts what happened to each event of one delivery.
type Summary struct {
	Received  int `json:"received"`
	Applied   int `json:"applied"`
	Unchanged int `json:"unchanged"`
	Duplicate int `json:"duplicate"`
	Malformed int `json:"malformed"`
	Failed    int `json:"failed"`
}

func (s *Summary) add(outcome EventOutcome) {
	switch outcome {
	case EventApplied:
		s.Applied++
	case EventUnchanged:
		s.Unchanged++
	case EventDuplicate:
		s.Duplicate++
	case EventMalformed:
		s.Malformed++
	case EventFailed:
		s.Failed++
	}
}
