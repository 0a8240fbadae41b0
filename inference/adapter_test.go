package inference

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantech/plantcare/features"
)

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const logisticArtifact = `{
	"version": "2024-05-01",
	"model": {
		"kind": "logistic",
		"weights": [-0.2, 0.01, -0.005, 0.0001, 0.3],
		"intercept": 2.5
	}
}`

const encodedArtifact = `{
	"version": "2024-05-02",
	"model": {
		"kind": "logistic",
		"weights": [-0.2, 0.01, -0.005, 0.0001, 0.3, 0.5, -0.5],
		"intercept": 2.5
	},
	"encoder": { "categories": ["basil", "ficus"] }
}`

func TestLoad_MissingArtifactDegrades(t *testing.T) {
	ctx := context.Background()

	for _, path := range []string{"", "/does/not/exist.json"} {
		a := Load(ctx, path)
		require.NotNil(t, a)
		assert.True(t, a.Degraded())

		// every score call returns the no-model default, never throws
		for i := 0; i < 3; i++ {
			result := a.Score(features.Vector{})
			assert.False(t, result.WaterNow)
			assert.Nil(t, result.Confidence)
			assert.Equal(t, ReasonNoModel, result.Reason)
		}
	}
}

func TestLoad_BrokenArtifactDegrades(t *testing.T) {
	ctx := context.Background()

	broken := []string{
		`not json`,
		`{"version":"1","model":{"kind":"mystery-forest"}}`,
		`{"version":"1","model":{"kind":"logistic"}}`,
	}
	for _, content := range broken {
		a := Load(ctx, writeArtifact(t, content))
		assert.True(t, a.Degraded(), content)
		assert.Equal(t, ReasonNoModel, a.Score(features.Vector{}).Reason)
	}
}

func TestScore_Logistic(t *testing.T) {
	a := Load(context.Background(), writeArtifact(t, logisticArtifact))
	require.False(t, a.Degraded())
	assert.Equal(t, "2024-05-01", a.Version())

	// dry soil, long time since watering: water
	dry := features.Vector{}
	dry.Numeric[features.SoilMoisture] = 5
	dry.Numeric[features.DaysSinceLastWater] = 4
	result := a.Score(dry)
	assert.True(t, result.WaterNow)
	assert.Equal(t, ReasonModel, result.Reason)
	require.NotNil(t, result.Confidence)
	assert.Greater(t, *result.Confidence, 0.5)

	// soaked soil: no water
	wet := features.Vector{}
	wet.Numeric[features.SoilMoisture] = 80
	result = a.Score(wet)
	assert.False(t, result.WaterNow)
	require.NotNil(t, result.Confidence)
	assert.Less(t, *result.Confidence, 0.5)
}

func TestScore_SpeciesEncoder(t *testing.T) {
	a := Load(context.Background(), writeArtifact(t, encodedArtifact))
	require.False(t, a.Degraded())

	v := features.Vector{Species: "basil"}
	v.Numeric[features.SoilMoisture] = 40

	known := a.Score(v)
	require.Equal(t, ReasonModel, known.Reason)

	v.Species = "unknown-species"
	unknown := a.Score(v)
	require.Equal(t, ReasonModel, unknown.Reason)

	// the basil column carries positive weight
	assert.Greater(t, *known.Confidence, *unknown.Confidence)

	// absent species scores like an unknown one
	v.Species = ""
	absent := a.Score(v)
	assert.Equal(t, *unknown.Confidence, *absent.Confidence)
}

func TestScore_DimensionMismatchIsErrorResult(t *testing.T) {
	// weights sized for an encoder the adapter does not have
	a := &Adapter{clf: logisticModel{weights: []float64{1, 2, 3}, intercept: 0}}

	result := a.Score(features.Vector{})
	assert.False(t, result.WaterNow)
	assert.Equal(t, ReasonError, result.Reason)
	require.NotNil(t, result.Confidence)
	assert.Equal(t, 0.0, *result.Confidence)
}

type panickyClassifier struct{}

func (panickyClassifier) Predict(x []float64) (bool, error)        { panic("model gone rogue") }
func (panickyClassifier) PredictProba(x []float64) (float64, error) { panic("model gone rogue") }

func TestScore_PanicIsErrorResult(t *testing.T) {
	a := &Adapter{clf: panickyClassifier{}}

	assert.NotPanics(t, func() {
		result := a.Score(features.Vector{})
		assert.Equal(t, ReasonError, result.Reason)
	})
}

func TestScore_RuleModelHasNoConfidence(t *testing.T) {
	a := Load(context.Background(), writeArtifact(t, `{
		"version": "rule-1",
		"model": { "kind": "moisture_rule", "threshold": 30 }
	}`))
	require.False(t, a.Degraded())

	dry := features.Vector{}
	dry.Numeric[features.SoilMoisture] = 10
	result := a.Score(dry)
	assert.True(t, result.WaterNow)
	assert.Nil(t, result.Confidence)
	assert.Equal(t, ReasonModel, result.Reason)

	wet := features.Vector{}
	wet.Numeric[features.SoilMoisture] = 55
	assert.False(t, a.Score(wet).WaterNow)
}

func TestErrNoProbaIsSentinel(t *testing.T) {
	_, err := moistureRule{threshold: 1}.PredictProba([]float64{0})
	assert.True(t, errors.Is(err, ErrNoProba))
}
