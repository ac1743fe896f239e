package presence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/autopeer-io/devgate/internal/gateway/core/model"
)

var errNoDeviceID = errors.New("heartbeat carries no device id")

type heartbeatPayload struct {
	DeviceID        string          `json:"device_id"`
	Timestamp       json.RawMessage `json:"timestamp"`
	Status          string          `json:"status"`
	Uptime          json.Number     `json:"uptime"`
	FirmwareVersion string          `json:"firmware_version"`
	Type            string          `json:"type"`
	DeviceType      string          `json:"device_type"`
}

// DecodeHeartbeat parses a heartbeat payload. topicDeviceID, taken from a
// per-device heartbeat topic, is used when the payload has no device_id and
// wins when both are present.
func DecodeHeartbeat(payload []byte, topicDeviceID string) (model.Heartbeat, error) {
	var p heartbeatPayload
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return model.Heartbeat{}, fmt.Errorf("decode heartbeat: %w", err)
	}

	hb := model.Heartbeat{
		DeviceID:        strings.TrimSpace(p.DeviceID),
		Status:          p.Status,
		FirmwareVersion: p.FirmwareVersion,
	}
	if topicDeviceID != "" {
		hb.DeviceID = topicDeviceID
	}
	if hb.DeviceID == "" {
		return model.Heartbeat{}, errNoDeviceID
	}

	typ := p.Type
	if typ == "" {
		typ = p.DeviceType
	}
	if typ != "" {
		hb.Type = model.ParseDeviceType(typ)
	}

	if p.Uptime != "" {
		if f, err := p.Uptime.Float64(); err == nil && f > 0 {
			hb.Uptime = int64(f)
		}
	}

	ts, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return model.Heartbeat{}, err
	}
	hb.ReportedAt = ts

	return hb, nil
}

// parseTimestamp accepts unix seconds, unix milliseconds, a numeric string or
// an RFC 3339 string. Missing and null timestamps yield the zero time.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("heartbeat timestamp: %w", err)
		}
		if s == "" {
			return time.Time{}, nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, nil
		}
		raw = []byte(s)
	}

	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || f < 0 {
		return time.Time{}, fmt.Errorf("heartbeat timestamp %q is neither a unix time nor RFC 3339", raw)
	}
	if f >= 1e12 {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), nil
}
