package iot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicMatch(t *testing.T) {
	cases := []struct {
		filter string
		topic  string
		match  bool
	}{
		{"plants/+/sensors", "plants/d1/sensors", true},
		{"plants/+/sensors", "plants/greenhouse-42/sensors", true},
		{"plants/+/sensors", "plants/d1/actuate", false},
		{"plants/+/sensors", "plants/d1/sensors/extra", false},
		{"plants/+/sensors", "plants/sensors", false},
		{"plants/d1/sensors", "plants/d1/sensors", true},
		{"plants/d1/sensors", "plants/d2/sensors", false},
		{"plants/#", "plants/d1/sensors", true},
		{"plants/#", "weather/d1", false},
		{"#", "anything/at/all", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.match, TopicMatch(c.filter, c.topic), "%s vs %s", c.filter, c.topic)
	}
}
