/*Package actuation handles verified remote watering commands

The order is verify-then-record-then-publish and is never reordered. The
caller gets success once the water event is durably recorded; the
command publish to the device happens on a background task, best-effort,
and can neither fail the response nor roll back the recorded event.
*/
package actuation

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/verdantech/plantcare/core"
	"github.com/verdantech/plantcare/core/logger"
	"github.com/verdantech/plantcare/core/store"
	"github.com/verdantech/plantcare/iot"
)

// DefaultDurationSeconds is used when the caller does not specify how
// long to water.
const DefaultDurationSeconds = 5

// Store is the persistence the dispatcher needs.
type Store interface {
	GetDevice(ctx context.Context, deviceID string) (*store.Device, error)
	CreateWaterEvent(ctx context.Context, e store.WaterEvent) (store.WaterEvent, error)
}

// Dispatcher records watering intents and sends commands to devices.
type Dispatcher struct {
	store     Store
	publisher iot.MessagePublisher
}

// NewDispatcher returns a dispatcher over the given store and publisher.
func NewDispatcher(s Store, publisher iot.MessagePublisher) *Dispatcher {
	return &Dispatcher{store: s, publisher: publisher}
}

type command struct {
	Action   string `json:"action"`
	Duration int    `json:"duration"`
}

// Actuate verifies the device token, records the water event and
// publishes the command to the device's topic. A token mismatch or
// unknown device returns core.ErrNotAuthorized with no event recorded
// and nothing published. The returned event id is valid once the event
// is durable, independent of the publish outcome.
func (d *Dispatcher) Actuate(ctx context.Context, deviceID, token string, durationSeconds int) (uuid.UUID, error) {
	device, err := d.store.GetDevice(ctx, deviceID)
	if err != nil {
		return uuid.Nil, err
	}
	if device == nil || device.Token != token {
		return uuid.Nil, core.ErrNotAuthorized
	}

	if durationSeconds <= 0 {
		durationSeconds = DefaultDurationSeconds
	}

	metadata, _ := json.Marshal(map[string]int{"duration_seconds": durationSeconds})
	event, err := d.store.CreateWaterEvent(ctx, store.WaterEvent{
		DeviceID: deviceID,
		Method:   store.MethodRemote,
		Reason:   "user_request",
		Metadata: metadata,
	})
	if err != nil {
		return uuid.Nil, err
	}

	// the audit record of intent is authoritative; delivery is best-effort
	go d.publish(deviceID, durationSeconds)

	return event.EventID, nil
}

func (d *Dispatcher) publish(deviceID string, durationSeconds int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Default().Errorf("actuation publish for %s failed: %v", deviceID, r)
		}
	}()
	payload, _ := json.Marshal(command{Action: "water", Duration: durationSeconds})
	d.publisher.PublishMessageQ1("plants/"+deviceID+"/actuate", payload)
}
