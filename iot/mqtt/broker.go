// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package mqtt is the embedded MQTT broker devices connect to

Devices connect with their device id as MQTT client id and their auth
token as password. Telemetry published to plants/{device_id}/sensors is
fanned out to in-process subscriptions (iot.Bus); watering commands go
out through PublishMessageQ1 (iot.MessagePublisher).
*/
package mqtt

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"

	"github.com/verdantech/plantcare/core/logger"
	"github.com/verdantech/plantcare/core/store"
	"github.com/verdantech/plantcare/iot"
)

// TelemetryFilter matches the telemetry topics of all devices.
const TelemetryFilter = "plants/+/sensors"

// ErrNotAvailable is returned by Subscribe while the broker is not running.
var ErrNotAvailable = errors.New("broker is not available")

// DeviceRegistry looks up registered devices for the CONNECT token
// check. A nil device means the device is not registered.
type DeviceRegistry interface {
	GetDevice(ctx context.Context, deviceID string) (*store.Device, error)
}

// Builder is a builder helper for the Broker
type Builder struct {
	// Listen is the TCP listen address, for example ":1883". This is mandatory.
	Listen string
	// Devices is used to verify device tokens at CONNECT time. This is
	// optional; without it any client is admitted.
	Devices DeviceRegistry
}

// Broker is the embedded MQTT broker.
type Broker struct {
	p *plugin
}

// plugin is the plugin for GMQTT
type plugin struct {
	mu      sync.RWMutex
	service gmqtt.Server
	running bool
	taps    []*tap

	listen  string
	devices DeviceRegistry
}

type tap struct {
	filter string
	ch     chan iot.Message
	once   sync.Once
}

func (t *tap) close() {
	t.once.Do(func() { close(t.ch) })
}

// NewBroker returns a new broker. The broker will not actually accept
// connections until you call Run().
func NewBroker(bb *Builder) *Broker {
	if len(bb.Listen) == 0 {
		panic("listen address missing")
	}
	return &Broker{
		p: &plugin{
			listen:  bb.Listen,
			devices: bb.Devices,
		},
	}
}

// Run is blocking and runs the broker until the context is cancelled.
// A failure to bind the listen port is logged and retried; it never
// brings down the caller, the bus simply stays unavailable.
func (b *Broker) Run(ctx context.Context) {
	rlog := logger.Default()
	for {
		ln, err := net.Listen("tcp", b.p.listen)
		if err != nil {
			rlog.Errorf("mqtt broker cannot listen on %s: %s", b.p.listen, err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Second):
				continue
			}
		}

		s := gmqtt.NewServer(
			gmqtt.WithTCPListener(ln),
			gmqtt.WithPlugin(b.p),
		)
		s.Run()
		rlog.Infof("mqtt broker listening on %s", b.p.listen)

		<-ctx.Done()
		s.Stop(context.Background())
		return
	}
}

// PublishMessageQ1 publishes an MQTT messsage with quality level 1
func (b *Broker) PublishMessageQ1(topic string, payload []byte) {
	b.p.mu.RLock()
	service := b.p.service
	running := b.p.running
	b.p.mu.RUnlock()
	if !running || service == nil {
		logger.Default().Warnf("dropping publish on %s, broker is not running", topic)
		return
	}
	logger.Default().Debugf("publish on %s (%d bytes)", topic, len(payload))
	msg := gmqtt.NewMessage(topic, payload, packets.QOS_1)
	service.PublishService().Publish(msg)
}

// Subscribe implements iot.Bus. It fails while the broker is not
// running; the returned channel is closed when the broker stops or the
// context is cancelled.
func (b *Broker) Subscribe(ctx context.Context, filter string) (<-chan iot.Message, error) {
	b.p.mu.Lock()
	if !b.p.running {
		b.p.mu.Unlock()
		return nil, ErrNotAvailable
	}
	t := &tap{filter: filter, ch: make(chan iot.Message, 64)}
	b.p.taps = append(b.p.taps, t)
	b.p.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.p.removeTap(t)
	}()
	return t.ch, nil
}

func (p *plugin) removeTap(t *tap) {
	p.mu.Lock()
	for i, candidate := range p.taps {
		if candidate == t {
			p.taps = append(p.taps[:i], p.taps[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	t.close()
}

func (p *plugin) fanout(msg iot.Message) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.taps {
		if !iot.TopicMatch(t.filter, msg.Topic) {
			continue
		}
		select {
		case t.ch <- msg:
		default:
			logger.Default().Warnf("subscriber too slow, dropping message on %s", msg.Topic)
		}
	}
}

// Load implements plugin interface
func (p *plugin) Load(service gmqtt.Server) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.service = service
	p.running = true
	return nil
}

// Unload implements plugin interface
func (p *plugin) Unload() error {
	p.mu.Lock()
	p.running = false
	taps := p.taps
	p.taps = nil
	p.mu.Unlock()
	for _, t := range taps {
		t.close()
	}
	return nil
}

// Name implements plugin interface
func (p *plugin) Name() string { return "plantcare broker" }

// HookWrapper implements plugin interface
func (p *plugin) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnConnectWrapper:    p.OnConnectWrapper,
		OnSubscribeWrapper:  p.OnSubscribeWrapper,
		OnMsgArrivedWrapper: p.OnMsgArrivedWrapper,
	}
}

// OnConnectWrapper verifies the device token of registered devices. The
// client id is the device id, the password carries the token. Unknown
// device ids are admitted; current policy permits unregistered
// ingestion.
func (p *plugin) OnConnectWrapper(connect gmqtt.OnConnect) gmqtt.OnConnect {
	return func(ctx context.Context, client gmqtt.Client) (code uint8) {
		deviceID := client.OptionsReader().ClientID()
		if p.devices != nil {
			lookupCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			device, err := p.devices.GetDevice(lookupCtx, deviceID)
			if err != nil {
				logger.Default().Errorf("device lookup for %s failed: %s", deviceID, err.Error())
			} else if device != nil && device.Token != client.OptionsReader().Password() {
				logger.Default().Warnf("connect denied, bad token for device %s", deviceID)
				return packets.CodeBadUsernameorPsw
			}
		}
		logger.Default().Debugf("connect %s", deviceID)
		return connect(ctx, client)
	}
}

// OnSubscribeWrapper enforces topic policy: a device may only subscribe
// to its own command topic.
func (p *plugin) OnSubscribeWrapper(subscribe gmqtt.OnSubscribe) gmqtt.OnSubscribe {
	return func(ctx context.Context, client gmqtt.Client, topic packets.Topic) (qos uint8) {
		deviceID := client.OptionsReader().ClientID()
		if topic.Name != "plants/"+deviceID+"/actuate" {
			logger.Default().Warnf("subscribe by %s on %s denied", deviceID, topic.Name)
			return packets.SUBSCRIBE_FAILURE
		}
		return subscribe(ctx, client, topic)
	}
}

// OnMsgArrivedWrapper intercepts telemetry messages and fans them out
// to the in-process subscriptions.
func (p *plugin) OnMsgArrivedWrapper(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) (valid bool) {
		topic := msg.Topic()
		if iot.TopicMatch(TelemetryFilter, topic) {
			p.fanout(iot.Message{Topic: topic, Payload: msg.Payload()})
		}
		return arrived(ctx, client, msg)
	}
}
