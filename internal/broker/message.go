package broker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Heartbeat is the wire format of a single alive signal. Count is the number
// of ticks to add to the day's total (always 1 in the current producer;
// batching would raise it), not a timestamp.
type Heartbeat struct {
	Count      int64  `json:"count"`
	ServerName string `json:"server_name"`
}

// EncodeHeartbeat marshals a heartbeat for name, uppercasing it so server
// identity is case-insensitive.
func EncodeHeartbeat(count int64, name string) ([]byte, error) {
	return json.Marshal(Heartbeat{Count: count, ServerName: strings.ToUpper(name)})
}

// DecodeHeartbeat parses and validates a heartbeat body. Bodies with a
// non-positive count or an empty name are rejected along with unparseable
// JSON.
func DecodeHeartbeat(body []byte) (Heartbeat, error) {
	var hb Heartbeat
	if err := json.Unmarshal(body, &hb); err != nil {
		return Heartbeat{}, fmt.Errorf("invalid heartbeat body: %w", err)
	}
	if hb.Count <= 0 {
		return Heartbeat{}, fmt.Errorf("invalid heartbeat count: %d", hb.Count)
	}
	hb.ServerName = strings.ToUpper(strings.TrimSpace(hb.ServerName))
	if hb.ServerName == "" {
		return Heartbeat{}, fmt.Errorf("heartbeat missing server_name")
	}
	return hb, nil
}
