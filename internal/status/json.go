package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/telemetry-bridge/internal/logic"
)

// HealthJSON is the /health response body.
//
// The store flag is serialised as "mongodb" for clients written against
// the earlier document-store deployment.
type HealthJSON struct {
	Status        string   `json:"status"`
	Timestamp     string   `json:"timestamp"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	MQTT          bool     `json:"mqtt"`
	Store         bool     `json:"mongodb"`
	Redis         *bool    `json:"redis,omitempty"`
	Threshold     float64  `json:"threshold"`
	LastTemp      *float64 `json:"lastTemp"`
	LedState      int      `json:"ledState"`
}

// BuildHealth combines connectivity and Control State into a health body.
func BuildHealth(snap Snapshot, state logic.State) HealthJSON {
	return HealthJSON{
		Status:        "ok",
		Timestamp:     snap.Now.UTC().Format("2006-01-02T15:04:05.000Z"),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		MQTT:          snap.MQTTConnected,
		Store:         snap.StoreConnected,
		Redis:         snap.CacheConnected,
		Threshold:     state.Threshold,
		LastTemp:      state.Temperature,
		LedState:      int(state.Led),
	}
}

// FormatHealth returns the JSON health body.
func FormatHealth(snap Snapshot, state logic.State) []byte {
	data, _ := json.Marshal(BuildHealth(snap, state))
	return data
}
