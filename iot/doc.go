// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package iot provides the message bus for device telemetry and commands

It contains the embedded MQTT broker devices connect to, the background
subscriber which feeds telemetry into the ingestion router, and the
interfaces that decouple both from each other.

Devices publish sensor readings to plants/{device_id}/sensors and
receive watering commands on plants/{device_id}/actuate. The subscriber
only needs the Bus interface, the actuation dispatcher only needs the
MessagePublisher interface. The broker satisfies both, so a different
MQTT backend can replace it without touching either consumer.
*/
package iot

import (
	"context"
	"strings"
)

// Message is one message taken from the bus.
type Message struct {
	Topic   string
	Payload []byte
}

// MessagePublisher is an interface to publish MQTT messages
type MessagePublisher interface {
	PublishMessageQ1(topic string, payload []byte)
}

// Bus hands out subscriptions on a topic filter. Subscribe fails while
// the bus is not available; a successful subscription delivers messages
// until the returned channel is closed, which signals connection loss.
type Bus interface {
	Subscribe(ctx context.Context, filter string) (<-chan Message, error)
}

// TopicMatch reports whether an MQTT topic matches a subscription
// filter with '+' and '#' wildcards.
func TopicMatch(filter, topic string) bool {
	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")
	for i, part := range filterParts {
		if part == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != "+" && part != topicParts[i] {
			return false
		}
	}
	return len(filterParts) == len(topicParts)
}
