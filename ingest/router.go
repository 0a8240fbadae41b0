/*Package ingest reconciles the two ingestion transports into one path

HTTP requests and bus messages both normalize their payload into the
canonical sensor reading and run through the identical Ingest sequence:
persist first, score second. Persistence failure aborts the attempt and
surfaces to the producer; scoring failure degrades to a safe default and
never aborts. The router holds no mutable shared state, all
serialization needed for consistency lives in the store.
*/
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/verdantech/plantcare/core"
	"github.com/verdantech/plantcare/core/logger"
	"github.com/verdantech/plantcare/core/store"
	"github.com/verdantech/plantcare/features"
	"github.com/verdantech/plantcare/inference"
)

// Transport tells which producer delivered a payload.
type Transport string

// the two ingestion transports
const (
	TransportHTTP Transport = "http"
	TransportBus  Transport = "bus"
)

// SensorPayload is the wire shape shared by HTTP ingestion and bus
// messages. All sensor fields are optional, the timestamp defaults to
// the arrival time.
type SensorPayload struct {
	DeviceID       string          `json:"device_id"`
	Timestamp      *time.Time      `json:"timestamp,omitempty"`
	Species        string          `json:"species,omitempty"`
	SoilMoisture   *float64        `json:"soil_moisture,omitempty"`
	AirTempC       *float64        `json:"air_temp_c,omitempty"`
	AirHumidityPct *float64        `json:"air_humidity_pct,omitempty"`
	LightLux       *float64        `json:"light_lux,omitempty"`
	Extra          json.RawMessage `json:"extra,omitempty"`
}

// Result is the combined outcome of one ingestion.
type Result struct {
	Saved    bool     `json:"saved"`
	WaterNow *bool    `json:"water_now"`
	Score    *float64 `json:"score,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// Store is the persistence the router needs.
type Store interface {
	CreateReading(ctx context.Context, r store.SensorReading) (store.SensorReading, error)
	LatestWaterEvent(ctx context.Context, deviceID string) (*store.WaterEvent, error)
}

// Scorer produces the watering decision for a feature vector.
type Scorer interface {
	Score(v features.Vector) inference.Result
}

// Notifier is told about every accepted reading. Implementations must
// not block and must handle their own failures, the router ignores them.
type Notifier interface {
	ReadingAccepted(ctx context.Context, r store.SensorReading)
}

// Router drives store, feature builder and inference per reading.
type Router struct {
	store    Store
	scorer   Scorer
	notifier Notifier
	now      func() time.Time
}

// NewRouter returns a router over the given store and scorer.
func NewRouter(s Store, scorer Scorer) *Router {
	return &Router{store: s, scorer: scorer, now: func() time.Time { return time.Now().UTC() }}
}

// WithNotifier adds a notifier for accepted readings.
func (rt *Router) WithNotifier(n Notifier) *Router {
	rt.notifier = n
	return rt
}

// Ingest normalizes the payload, persists the reading and scores it.
// The reading is stored regardless of the inference outcome; a
// persistence failure aborts with an error before any scoring happens.
func (rt *Router) Ingest(ctx context.Context, p SensorPayload, transport Transport) (Result, error) {
	if p.DeviceID == "" {
		return Result{}, fmt.Errorf("%w: device_id is required", core.ErrInvalidPayload)
	}

	reading := store.SensorReading{
		DeviceID:       p.DeviceID,
		Timestamp:      rt.now(),
		Species:        p.Species,
		SoilMoisture:   p.SoilMoisture,
		AirTempC:       p.AirTempC,
		AirHumidityPct: p.AirHumidityPct,
		LightLux:       p.LightLux,
		Extra:          p.Extra,
	}
	if p.Timestamp != nil {
		reading.Timestamp = p.Timestamp.UTC()
	}

	stored, err := rt.store.CreateReading(ctx, reading)
	if err != nil {
		return Result{}, err
	}
	logger.FromContext(ctx).Debugf("stored reading %s for device %s via %s",
		stored.ReadingID, stored.DeviceID, transport)

	if rt.notifier != nil {
		rt.notifier.ReadingAccepted(ctx, stored)
	}

	scored := rt.Evaluate(ctx, stored)
	return Result{
		Saved:    true,
		WaterNow: &scored.WaterNow,
		Score:    scored.Confidence,
		Reason:   string(scored.Reason),
	}, nil
}

// Evaluate builds the feature vector for an already-stored reading and
// scores it. Failures on the inference path degrade to the error
// result, they never surface.
func (rt *Router) Evaluate(ctx context.Context, r store.SensorReading) inference.Result {
	lastWater, err := rt.store.LatestWaterEvent(ctx, r.DeviceID)
	if err != nil {
		logger.FromContext(ctx).Errorf("cannot fetch water history for %s: %s", r.DeviceID, err.Error())
		zero := 0.0
		return inference.Result{WaterNow: false, Confidence: &zero, Reason: inference.ReasonError}
	}
	return rt.scorer.Score(features.Build(r, lastWater))
}
