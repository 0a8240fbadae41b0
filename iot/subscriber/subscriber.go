/*Package subscriber feeds bus telemetry into the ingestion router

The subscriber is a long-lived background task running a reconnect
state machine: Disconnected -> Connecting -> Subscribed, and back to
Connecting on connection loss. One malformed message is logged and
dropped, it never interrupts the subscription. Bus unavailability at
startup leaves the subscriber retrying and never prevents the rest of
the service from serving.
*/
package subscriber

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/verdantech/plantcare/core/logger"
	"github.com/verdantech/plantcare/core/schema"
	"github.com/verdantech/plantcare/ingest"
	"github.com/verdantech/plantcare/iot"
)

// State is the connection state of the subscriber.
type State int32

// the subscriber states
const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// Ingestor is the part of the ingestion router the subscriber needs.
type Ingestor interface {
	Ingest(ctx context.Context, p ingest.SensorPayload, transport ingest.Transport) (ingest.Result, error)
}

// Subscriber consumes device telemetry from the bus.
type Subscriber struct {
	bus      iot.Bus
	ingestor Ingestor
	filter   string
	backoff  time.Duration
	state    atomic.Int32
}

// New returns a subscriber for the telemetry wildcard topic.
func New(bus iot.Bus, ingestor Ingestor) *Subscriber {
	return &Subscriber{
		bus:      bus,
		ingestor: ingestor,
		filter:   "plants/+/sensors",
		backoff:  2 * time.Second,
	}
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

func (s *Subscriber) setState(state State) {
	s.state.Store(int32(state))
}

// Run is blocking and runs the subscription loop until the context is
// cancelled. It keeps reconnecting with a fixed backoff whenever the
// bus is unavailable or the subscription is lost.
func (s *Subscriber) Run(ctx context.Context) {
	rlog := logger.Default()
	for {
		s.setState(StateConnecting)
		ch, err := s.bus.Subscribe(ctx, s.filter)
		if err != nil {
			rlog.Debugf("bus not available (%s), retrying in %s", err.Error(), s.backoff)
			select {
			case <-ctx.Done():
				s.setState(StateDisconnected)
				return
			case <-time.After(s.backoff):
				continue
			}
		}

		s.setState(StateSubscribed)
		rlog.Infof("subscribed to %s", s.filter)
		for msg := range ch {
			s.handle(ctx, msg)
		}

		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		rlog.Warn("subscription lost, reconnecting")
	}
}

// handle processes one bus message. Failures are logged and the message
// is dropped; the subscription always survives.
func (s *Subscriber) handle(ctx context.Context, msg iot.Message) {
	ctx, rlog := logger.ContextWithLogger(ctx)

	if err := schema.ValidateSensorPayload(msg.Payload); err != nil {
		rlog.Warnf("dropping malformed message on %s: %s", msg.Topic, err.Error())
		return
	}

	var payload ingest.SensorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		rlog.Warnf("dropping undecodable message on %s: %s", msg.Topic, err.Error())
		return
	}

	if _, err := s.ingestor.Ingest(ctx, payload, ingest.TransportBus); err != nil {
		rlog.Errorf("dropping message on %s: %s", msg.Topic, err.Error())
	}
}
