/*Package features turns a raw sensor reading into the fixed-order
numeric vector consumed by inference

Build is deterministic and side-effect free, identical inputs always
produce the identical vector. Absent sensor values are zero-filled;
callers that need to distinguish "not measured" from "measured zero"
must inspect the raw reading, the vector does not carry that
distinction.
*/
package features

import (
	"github.com/verdantech/plantcare/core/pointers"
	"github.com/verdantech/plantcare/core/store"
)

// Dim is the number of numeric features.
const Dim = 5

// positions of the numeric features within the vector
const (
	SoilMoisture = iota
	AirTempC
	AirHumidityPct
	LightLux
	DaysSinceLastWater
)

// Vector is the fixed-order input to the scorer. Species is an optional
// categorical feature, the empty string means absent.
type Vector struct {
	Numeric [Dim]float64
	Species string
}

// Build computes the feature vector for a reading. lastWater is the
// most recent water event for the reading's device, nil if there is
// none. Without a prior event days_since_last_water is 0.0, a
// documented approximation rather than "unknown".
func Build(r store.SensorReading, lastWater *store.WaterEvent) Vector {
	v := Vector{Species: r.Species}
	v.Numeric[SoilMoisture] = pointers.SafeFloat64(r.SoilMoisture)
	v.Numeric[AirTempC] = pointers.SafeFloat64(r.AirTempC)
	v.Numeric[AirHumidityPct] = pointers.SafeFloat64(r.AirHumidityPct)
	v.Numeric[LightLux] = pointers.SafeFloat64(r.LightLux)

	if lastWater != nil && r.Timestamp.After(lastWater.Timestamp) {
		v.Numeric[DaysSinceLastWater] = r.Timestamp.Sub(lastWater.Timestamp).Hours() / 24
	}
	return v
}
