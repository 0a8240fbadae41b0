// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package schema validates ingestion payloads against a JSON schema

The same validator runs on both ingestion transports, so a payload that
is acceptable over HTTP is acceptable on the bus and vice versa.
*/
package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/verdantech/plantcare/core"
)

const sensorPayloadSchema = `{
	"$id": "https://verdantech.github.io/plantcare/sensor-payload.json",
	"type": "object",
	"required": ["device_id"],
	"properties": {
		"device_id": { "type": "string", "minLength": 1 },
		"timestamp": { "type": "string", "format": "date-time" },
		"species": { "type": "string" },
		"soil_moisture": { "type": "number" },
		"air_temp_c": { "type": "number" },
		"air_humidity_pct": { "type": "number" },
		"light_lux": { "type": "number" },
		"extra": { "type": "object" }
	}
}`

var sensorPayload *gojsonschema.Schema

func init() {
	var err error
	sensorPayload, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(sensorPayloadSchema))
	if err != nil {
		panic(fmt.Errorf("cannot compile sensor payload schema: %w", err))
	}
}

// ValidateSensorPayload validates raw JSON against the sensor payload
// schema. It returns core.ErrInvalidPayload with the collected schema
// violations, or nil if the payload is valid.
func ValidateSensorPayload(data []byte) error {
	result, err := sensorPayload.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %s", core.ErrInvalidPayload, err.Error())
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		details = append(details, e.String())
	}
	return fmt.Errorf("%w: %s", core.ErrInvalidPayload, strings.Join(details, "; "))
}
