// Command nexstar_logger copies the nexstar_server status stream into InfluxDB.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/w1xm/nexstar_interface/logger"
)

const measurement = "nexstar.status"

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	log := logger.New(os.Stderr, logger.ParseLevel(getenv("LOG_LEVEL", "info")), logger.FormatAuto)

	client := influxdb2.NewClient(getenv("INFLUX_SERVER", "http://localhost:9999"), os.Getenv("INFLUX_TOKEN"))
	defer client.Close()
	writeApi := client.WriteApi(getenv("INFLUX_ORG", "w1xm"), getenv("INFLUX_BUCKET", "nexstar.raw"))
	defer writeApi.Close()
	go func() {
		for err := range writeApi.Errors() {
			log.Error("influx write failed", "error", err)
		}
	}()

	url := getenv("NEXSTAR_ADDRESS", "ws://localhost:8503/api/ws")
	for {
		if err := logData(writeApi, url); err != nil {
			log.Warn("status stream ended", "url", url, "error", err)
		}
		time.Sleep(1 * time.Second)
	}
}

// flattenStatus turns nested JSON into dotted field names, e.g. ra_dec.primary.
func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	case nil:
	default:
		if prefix == "" {
			return
		}
		fields[prefix[1:]] = status
	}
}

// pointTime uses the server's poll time so buffered frames keep their spacing.
func pointTime(fields map[string]interface{}) time.Time {
	if s, ok := fields["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			delete(fields, "time")
			return t
		}
	}
	return time.Now()
}

func logData(writeApi api.WriteApi, url string) error {
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	for {
		var status interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		fields := make(map[string]interface{})
		flattenStatus(fields, status, "")
		if len(fields) == 0 {
			continue
		}
		writeApi.WritePoint(influxdb2.NewPoint(measurement, nil, fields, pointTime(fields)))
	}
}
