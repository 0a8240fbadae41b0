package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantech/plantcare/core"
	"github.com/verdantech/plantcare/core/store"
	"github.com/verdantech/plantcare/features"
	"github.com/verdantech/plantcare/inference"
)

type fakeStore struct {
	readings      []store.SensorReading
	lastWater     *store.WaterEvent
	failCreate    error
	failLastWater error
}

func (f *fakeStore) CreateReading(ctx context.Context, r store.SensorReading) (store.SensorReading, error) {
	if f.failCreate != nil {
		return store.SensorReading{}, f.failCreate
	}
	r.ReadingID = uuid.New()
	f.readings = append(f.readings, r)
	return r, nil
}

func (f *fakeStore) LatestWaterEvent(ctx context.Context, deviceID string) (*store.WaterEvent, error) {
	if f.failLastWater != nil {
		return nil, f.failLastWater
	}
	return f.lastWater, nil
}

type fakeScorer struct {
	result inference.Result
	seen   []features.Vector
}

func (f *fakeScorer) Score(v features.Vector) inference.Result {
	f.seen = append(f.seen, v)
	return f.result
}

type recordingNotifier struct {
	accepted []store.SensorReading
}

func (n *recordingNotifier) ReadingAccepted(ctx context.Context, r store.SensorReading) {
	n.accepted = append(n.accepted, r)
}

func f64(v float64) *float64 { return &v }

func waterResult(waterNow bool, confidence float64) inference.Result {
	return inference.Result{WaterNow: waterNow, Confidence: &confidence, Reason: inference.ReasonModel}
}

func TestIngest_PersistsExactFields(t *testing.T) {
	fs := &fakeStore{}
	rt := NewRouter(fs, &fakeScorer{result: waterResult(true, 0.9)})

	result, err := rt.Ingest(context.Background(), SensorPayload{
		DeviceID:     "d1",
		SoilMoisture: f64(12.0),
	}, TransportHTTP)
	require.NoError(t, err)

	assert.True(t, result.Saved)
	require.NotNil(t, result.WaterNow)
	assert.True(t, *result.WaterNow)
	assert.Equal(t, "model", result.Reason)

	require.Len(t, fs.readings, 1)
	stored := fs.readings[0]
	assert.Equal(t, "d1", stored.DeviceID)
	require.NotNil(t, stored.SoilMoisture)
	assert.Equal(t, 12.0, *stored.SoilMoisture)

	// omitted fields stay absent, they are not zero-filled in storage
	assert.Nil(t, stored.AirTempC)
	assert.Nil(t, stored.AirHumidityPct)
	assert.Nil(t, stored.LightLux)
}

func TestIngest_TimestampDefaultsToArrival(t *testing.T) {
	fs := &fakeStore{}
	rt := NewRouter(fs, &fakeScorer{})
	arrival := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rt.now = func() time.Time { return arrival }

	_, err := rt.Ingest(context.Background(), SensorPayload{DeviceID: "d1"}, TransportHTTP)
	require.NoError(t, err)
	assert.Equal(t, arrival, fs.readings[0].Timestamp)

	// an explicit device timestamp wins
	deviceTime := time.Date(2024, 4, 30, 23, 59, 0, 0, time.UTC)
	_, err = rt.Ingest(context.Background(), SensorPayload{DeviceID: "d1", Timestamp: &deviceTime}, TransportBus)
	require.NoError(t, err)
	assert.Equal(t, deviceTime, fs.readings[1].Timestamp)
}

func TestIngest_MissingDeviceID(t *testing.T) {
	fs := &fakeStore{}
	rt := NewRouter(fs, &fakeScorer{})

	_, err := rt.Ingest(context.Background(), SensorPayload{}, TransportHTTP)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidPayload))
	assert.Empty(t, fs.readings)
}

func TestIngest_PersistenceFailureAborts(t *testing.T) {
	scorer := &fakeScorer{result: waterResult(true, 0.9)}
	fs := &fakeStore{failCreate: &core.PersistenceError{Op: "create reading", Err: errors.New("connection refused")}}
	rt := NewRouter(fs, scorer)

	_, err := rt.Ingest(context.Background(), SensorPayload{DeviceID: "d1"}, TransportBus)
	require.Error(t, err)

	var pe *core.PersistenceError
	assert.True(t, errors.As(err, &pe))

	// nothing is scored when the write failed
	assert.Empty(t, scorer.seen)
}

func TestIngest_ScoringFailureDoesNotAbort(t *testing.T) {
	zero := 0.0
	scorer := &fakeScorer{result: inference.Result{WaterNow: false, Confidence: &zero, Reason: inference.ReasonError}}
	fs := &fakeStore{}
	rt := NewRouter(fs, scorer)

	result, err := rt.Ingest(context.Background(), SensorPayload{DeviceID: "d1"}, TransportHTTP)
	require.NoError(t, err)

	// the reading is persisted even though inference errored
	assert.Len(t, fs.readings, 1)
	assert.True(t, result.Saved)
	require.NotNil(t, result.WaterNow)
	assert.False(t, *result.WaterNow)
	assert.Equal(t, "error", result.Reason)
}

func TestIngest_WaterHistoryFailureDegrades(t *testing.T) {
	scorer := &fakeScorer{result: waterResult(true, 0.9)}
	fs := &fakeStore{failLastWater: errors.New("connection lost")}
	rt := NewRouter(fs, scorer)

	result, err := rt.Ingest(context.Background(), SensorPayload{DeviceID: "d1"}, TransportHTTP)
	require.NoError(t, err)

	assert.True(t, result.Saved)
	assert.Equal(t, "error", result.Reason)
	assert.Empty(t, scorer.seen)
}

func TestIngest_BothTransportsShareThePath(t *testing.T) {
	scorer := &fakeScorer{result: waterResult(false, 0.2)}
	fs := &fakeStore{}
	rt := NewRouter(fs, scorer)

	payload := SensorPayload{DeviceID: "d1", SoilMoisture: f64(55)}
	httpResult, err := rt.Ingest(context.Background(), payload, TransportHTTP)
	require.NoError(t, err)
	busResult, err := rt.Ingest(context.Background(), payload, TransportBus)
	require.NoError(t, err)

	assert.Equal(t, httpResult, busResult)
	require.Len(t, scorer.seen, 2)
	assert.Equal(t, scorer.seen[0], scorer.seen[1])
}

func TestIngest_DaysSinceLastWaterFlowsIntoFeatures(t *testing.T) {
	ts := time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC)
	scorer := &fakeScorer{result: waterResult(true, 0.8)}
	fs := &fakeStore{lastWater: &store.WaterEvent{DeviceID: "d1", Timestamp: ts.Add(-48 * time.Hour)}}
	rt := NewRouter(fs, scorer)

	_, err := rt.Ingest(context.Background(), SensorPayload{DeviceID: "d1", Timestamp: &ts}, TransportHTTP)
	require.NoError(t, err)

	require.Len(t, scorer.seen, 1)
	assert.InDelta(t, 2.0, scorer.seen[0].Numeric[features.DaysSinceLastWater], 1e-9)
}

func TestIngest_NotifierSeesAcceptedReadings(t *testing.T) {
	notifier := &recordingNotifier{}
	fs := &fakeStore{}
	rt := NewRouter(fs, &fakeScorer{}).WithNotifier(notifier)

	_, err := rt.Ingest(context.Background(), SensorPayload{DeviceID: "d1"}, TransportHTTP)
	require.NoError(t, err)
	require.Len(t, notifier.accepted, 1)
	assert.Equal(t, "d1", notifier.accepted[0].DeviceID)

	// a failed write is never announced
	fs.failCreate = errors.New("boom")
	_, err = rt.Ingest(context.Background(), SensorPayload{DeviceID: "d1"}, TransportHTTP)
	require.Error(t, err)
	assert.Len(t, notifier.accepted, 1)
}
