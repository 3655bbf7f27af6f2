// Package ingest pulls readings from message brokers into the pipeline.
// Sources decode broker payloads with metric.ParseReading and hand the
// result to the engine; malformed payloads are counted, logged and
// skipped so one bad producer cannot wedge a stream.
package ingest

import (
	"github.com/vigilant-otter/pulsefeed/internal/engine"
	"github.com/vigilant-otter/pulsefeed/internal/metric"
)

// Pipeline consumes decoded readings. *engine.Engine implements it.
type Pipeline interface {
	Ingest(r metric.Reading) (engine.IngestResult, error)
}
