//go:build integration

package influxdb

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/autotouch-core/internal/infrastructure/config"
)

// Requires InfluxDB at 127.0.0.1:8086 with the dev token.
func TestIntegration_WriteAndFlush(t *testing.T) {
	ctx := context.Background()
	client, err := Connect(ctx, config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "autotouch-dev-token",
		Org:           "autotouch",
		Bucket:        "autotouch",
		FlushInterval: 1,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.SetOnError(func(err error) { t.Errorf("async write error: %v", err) })
	client.WriteRunMetric("pegar_bau", "succeeded", "", 4, 4, 2*time.Second)
	client.WriteMatchMetric("pegar_bau", "01_bau.png", 0, 1, 0.93, true, 30*time.Millisecond)
	client.Flush()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
