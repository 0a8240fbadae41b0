package inference

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoProba is returned by PredictProba when the classifier does not
// support probability output.
var ErrNoProba = errors.New("classifier does not support probability output")

// Classifier is the opaque pre-trained scorer. Concrete backings are an
// implementation detail behind this interface.
type Classifier interface {
	// Predict returns the binary watering decision for the feature vector.
	Predict(x []float64) (bool, error)
	// PredictProba returns the positive-class probability, or ErrNoProba.
	PredictProba(x []float64) (float64, error)
}

// logisticModel is a binary logistic regression over the full feature
// vector, numeric features plus the one-hot encoded species columns.
type logisticModel struct {
	weights   []float64
	intercept float64
}

func (m logisticModel) decision(x []float64) (float64, error) {
	if len(x) != len(m.weights) {
		return 0, fmt.Errorf("feature vector has %d values, model expects %d", len(x), len(m.weights))
	}
	sum := m.intercept
	for i, w := range m.weights {
		sum += w * x[i]
	}
	return sum, nil
}

func (m logisticModel) Predict(x []float64) (bool, error) {
	d, err := m.decision(x)
	if err != nil {
		return false, err
	}
	return d >= 0, nil
}

func (m logisticModel) PredictProba(x []float64) (float64, error) {
	d, err := m.decision(x)
	if err != nil {
		return 0, err
	}
	return 1 / (1 + math.Exp(-d)), nil
}

// moistureRule is a trivial threshold classifier: water when the soil
// moisture feature drops below the threshold. It has no probability
// output.
type moistureRule struct {
	threshold float64
}

func (m moistureRule) Predict(x []float64) (bool, error) {
	if len(x) == 0 {
		return false, errors.New("empty feature vector")
	}
	return x[0] < m.threshold, nil
}

func (m moistureRule) PredictProba(x []float64) (float64, error) {
	return 0, ErrNoProba
}

// speciesEncoder one-hot encodes the categorical species feature. An
// unknown or absent species encodes to all zeros.
type speciesEncoder struct {
	categories []string
}

func (e *speciesEncoder) transform(species string) []float64 {
	oneHot := make([]float64, len(e.categories))
	for i, c := range e.categories {
		if c == species {
			oneHot[i] = 1
			break
		}
	}
	return oneHot
}
