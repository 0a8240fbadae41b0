/*Package inference wraps the pre-trained watering classifier

The adapter isolates the scorer from ingestion: storage is authoritative
and mandatory, inference is best-effort and advisory. A missing or
broken model artifact puts the adapter into degraded mode where every
score is the safe default, and a failure during a single scoring call is
converted into an error result. Neither ever propagates to the caller.

The loaded model is read-only after Load and safe for concurrent use.
Replacing a model means loading a new adapter and swapping the handle,
never mutating in place.
*/
package inference

import (
	"context"
	"errors"

	"github.com/verdantech/plantcare/core/logger"
	"github.com/verdantech/plantcare/features"
)

// Reason tells how a score came about.
type Reason string

// all scoring reasons
const (
	ReasonModel   Reason = "model"
	ReasonNoModel Reason = "no-model"
	ReasonError   Reason = "error"
)

// Result is the outcome of one scoring call. Confidence is the
// classifier's positive-class probability, nil when the classifier has
// no probability output or no model is loaded.
type Result struct {
	WaterNow   bool     `json:"water_now"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reason     Reason   `json:"reason"`
}

// Adapter scores feature vectors with the loaded classifier.
type Adapter struct {
	clf     Classifier
	enc     *speciesEncoder
	version string
}

// Load reads the model bundle from the given path (a file path or an
// s3:// URI) and returns a ready adapter. Loading failure is not fatal:
// the error is logged and the returned adapter is degraded, every Score
// call then answers with the no-model default while ingestion and
// storage continue unaffected.
func Load(ctx context.Context, path string) *Adapter {
	rlog := logger.FromContext(ctx)
	if path == "" {
		rlog.Info("no model artifact configured, inference is degraded")
		return &Adapter{}
	}
	data, err := fetchArtifact(ctx, path)
	if err != nil {
		rlog.Errorf("cannot load model artifact from %s: %s", path, err.Error())
		return &Adapter{}
	}
	clf, enc, version, err := parseArtifact(data)
	if err != nil {
		rlog.Errorf("model artifact %s is unusable: %s", path, err.Error())
		return &Adapter{}
	}
	rlog.Infof("loaded model artifact %s version %s", path, version)
	return &Adapter{clf: clf, enc: enc, version: version}
}

// Degraded reports whether the adapter operates without a model.
func (a *Adapter) Degraded() bool {
	return a == nil || a.clf == nil
}

// Version returns the version string of the loaded artifact.
func (a *Adapter) Version() string {
	if a == nil {
		return ""
	}
	return a.version
}

// Score converts the feature vector into a watering decision. It never
// fails: without a model it returns the no-model default, and any error
// or panic during the call becomes the error result.
func (a *Adapter) Score(v features.Vector) (result Result) {
	if a.Degraded() {
		return Result{WaterNow: false, Confidence: nil, Reason: ReasonNoModel}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Default().Errorf("scoring panic recovered: %v", r)
			result = errorResult()
		}
	}()

	x := make([]float64, 0, features.Dim+8)
	x = append(x, v.Numeric[:]...)
	if a.enc != nil {
		// an absent or unknown species encodes to all-zero columns
		x = append(x, a.enc.transform(v.Species)...)
	}

	waterNow, err := a.clf.Predict(x)
	if err != nil {
		logger.Default().Errorf("scoring failed: %s", err.Error())
		return errorResult()
	}

	result = Result{WaterNow: waterNow, Reason: ReasonModel}
	proba, err := a.clf.PredictProba(x)
	switch {
	case err == nil:
		result.Confidence = &proba
	case errors.Is(err, ErrNoProba):
		// decision without confidence
	default:
		logger.Default().Errorf("probability output failed: %s", err.Error())
		return errorResult()
	}
	return result
}

func errorResult() Result {
	zero := 0.0
	return Result{WaterNow: false, Confidence: &zero, Reason: ReasonError}
}
