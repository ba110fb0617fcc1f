package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteChannelLevel records a channel level reported by the hub.
//
// Levels are the hub's normalised 0-100 range; for binary channels the
// value is 0 or 100. The write is non-blocking and batched.
func (c *Client) WriteChannelLevel(area, device, channel string, level float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"channel_level",
		map[string]string{
			"area":    area,
			"device":  device,
			"channel": channel,
		},
		map[string]interface{}{
			"level": level,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteButtonEvent records a classified remote button press.
//
// clickType is one of single, double, long, or long_finished.
func (c *Client) WriteButtonEvent(area, device, button, clickType string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"button_event",
		map[string]string{
			"area":   area,
			"device": device,
			"button": button,
		},
		map[string]interface{}{
			"click_type": clickType,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionTransition records a connection state change for the hub
// or broker session. Useful for charting reconnect churn.
func (c *Client) WriteSessionTransition(session, state string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"session_state",
		map[string]string{
			"session": session,
		},
		map[string]interface{}{
			"state": state,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point for measurements that don't fit the
// helper methods. Tags should stay low cardinality.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
