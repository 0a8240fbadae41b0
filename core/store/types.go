// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package store

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Device is a registered sensor/actuator unit. The device_id string is
// the sole join key towards readings, plants and water events; none of
// those hold a database-internal reference to the device row.
type Device struct {
	DeviceID  string    `json:"device_id"`
	Token     string    `json:"token,omitempty"`
	Owner     string    `json:"owner,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Plant is a managed plant, optionally linked to a device.
type Plant struct {
	PlantID   uuid.UUID       `json:"plant_id"`
	Name      string          `json:"name"`
	Species   string          `json:"species"`
	Stage     string          `json:"stage,omitempty"`
	DeviceID  string          `json:"device_id,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// SensorReading is one timestamped snapshot of sensor values from a
// device. Readings are append-only, they are never updated or deleted.
// All sensor fields are independently nullable; a nil pointer means the
// device did not measure the value, which is not the same as zero.
type SensorReading struct {
	ReadingID      uuid.UUID       `json:"reading_id"`
	Timestamp      time.Time       `json:"timestamp"`
	DeviceID       string          `json:"device_id"`
	Species        string          `json:"species,omitempty"`
	SoilMoisture   *float64        `json:"soil_moisture"`
	AirTempC       *float64        `json:"air_temp_c"`
	AirHumidityPct *float64        `json:"air_humidity_pct"`
	LightLux       *float64        `json:"light_lux"`
	Extra          json.RawMessage `json:"extra,omitempty"`
}

// Method describes how a water event came about.
type Method string

// all supported watering methods
const (
	MethodManual Method = "manual"
	MethodRemote Method = "remote"
	MethodAuto   Method = "auto"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (m *Method) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*m = Method(s)
	switch *m {
	case MethodManual, MethodRemote, MethodAuto:
		return nil
	default:
		return fmt.Errorf("%s is not a valid Method", s)
	}
}

// WaterEvent is the append-only audit record of a watering decision or
// actuation.
type WaterEvent struct {
	EventID   uuid.UUID       `json:"event_id"`
	Timestamp time.Time       `json:"timestamp"`
	DeviceID  string          `json:"device_id"`
	Method    Method          `json:"method"`
	Reason    string          `json:"reason,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}
