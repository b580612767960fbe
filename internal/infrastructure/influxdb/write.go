package influxdb

import (
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementFanState is the measurement every fan attribute is written to.
const MeasurementFanState = "fan_state"

// WriteFanState records one attribute reading for a fan.
//
// Numeric values go to the "value" field. ON/OFF style values are also
// written as 1/0 so they can be graphed. Anything else is stored in the
// "text" field only.
//
//	client.WriteFanState("bedroom", "fan_speed", "3", time.Now())
func (c *Client) WriteFanState(fanID, attribute, value string, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	point := FanStatePoint(fanID, attribute, value, ts)
	if point == nil {
		return
	}
	c.writer.WritePoint(point)
}

// FanStatePoint builds the point WriteFanState sends. It returns nil for
// an empty value.
func FanStatePoint(fanID, attribute, value string, ts time.Time) *write.Point {
	if value == "" {
		return nil
	}

	fields := map[string]any{}
	if f, ok := numericValue(value); ok {
		fields["value"] = f
	} else {
		fields["text"] = value
	}

	return write.NewPoint(
		MeasurementFanState,
		map[string]string{
			"fan_id":    fanID,
			"attribute": attribute,
		},
		fields,
		ts,
	)
}

func numericValue(value string) (float64, bool) {
	switch strings.ToUpper(value) {
	case "ON", "OCCUPIED":
		return 1, true
	case "OFF", "UNOCCUPIED":
		return 0, true
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
