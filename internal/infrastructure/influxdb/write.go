package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteProbeSample mirrors one probe result. Latency is recorded in
// milliseconds; a down probe writes up=0 with zero latency.
func (c *Client) WriteProbeSample(group, server, method string, up bool, latency time.Duration) {
	if !c.ok() {
		return
	}

	upValue := 0
	if up {
		upValue = 1
	}

	point := write.NewPoint(
		"probe",
		map[string]string{
			"group":  group,
			"server": server,
			"method": method,
		},
		map[string]interface{}{
			"up":         upValue,
			"latency_ms": float64(latency) / float64(time.Millisecond),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteGroupState mirrors a group lifecycle transition together with
// the consecutive-failure count at the moment it happened.
func (c *Client) WriteGroupState(group, state string, failures int) {
	if !c.ok() {
		return
	}

	point := write.NewPoint(
		"group_state",
		map[string]string{
			"group": group,
			"state": state,
		},
		map[string]interface{}{
			"failures": failures,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteActuation mirrors an outlet switching event: automatic recovery
// cycles, scheduled restarts, and manual commands. Group is empty for
// direct outlet control.
func (c *Client) WriteActuation(group, outlet, action string, success bool) {
	if !c.ok() {
		return
	}

	okValue := 0
	if success {
		okValue = 1
	}

	point := write.NewPoint(
		"actuation",
		map[string]string{
			"group":  group,
			"outlet": outlet,
			"action": action,
		},
		map[string]interface{}{
			"success": okValue,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
