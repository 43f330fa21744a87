package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementRun   = "run"
	MeasurementMatch = "match"
)

// WriteRunMetric records one finished run. Non-blocking.
//
// Parameters:
//   - sequenceID: tag, e.g. "pegar_bau"
//   - result: tag, terminal state such as "succeeded" or "failed"
//   - reason: tag, failure reason; omitted when empty
//   - steps: steps entered before the run ended
//   - interactions: taps and swipes issued
//   - duration: wall time from start to finish
func (c *Client) WriteRunMetric(sequenceID, result, reason string, steps, interactions int, duration time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.points.WritePoint(runPoint(sequenceID, result, reason, steps, interactions, duration, time.Now()))
}

// WriteMatchMetric records one template match attempt. Non-blocking.
func (c *Client) WriteMatchMetric(sequenceID, template string, step, attempt int, confidence float64, found bool, elapsed time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.points.WritePoint(matchPoint(sequenceID, template, step, attempt, confidence, found, elapsed, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.points.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func runPoint(sequenceID, result, reason string, steps, interactions int, duration time.Duration, ts time.Time) *write.Point {
	tags := map[string]string{
		"sequence": sequenceID,
		"result":   result,
	}
	if reason != "" {
		tags["reason"] = reason
	}
	return write.NewPoint(MeasurementRun, tags, map[string]interface{}{
		"steps":        steps,
		"interactions": interactions,
		"duration_ms":  duration.Milliseconds(),
	}, ts)
}

func matchPoint(sequenceID, template string, step, attempt int, confidence float64, found bool, elapsed time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementMatch,
		map[string]string{
			"sequence": sequenceID,
			"template": template,
		},
		map[string]interface{}{
			"step":       step,
			"attempt":    attempt,
			"confidence": confidence,
			"found":      found,
			"elapsed_ms": elapsed.Milliseconds(),
		}, ts)
}
