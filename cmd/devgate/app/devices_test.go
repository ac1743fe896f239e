package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/devgate/internal/gateway/core/model"
)

func TestDevicesCommand(t *testing.T) {
	now := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/devices", r.URL.Path)
		_ = json.NewEncoder(w).Encode(deviceListResponse{
			Devices: []model.Device{
				{ID: "spk-01", Type: model.DeviceTypeSpeaker, Status: model.StatusOnline, LastSeen: now, FirmwareVersion: "1.4.2", Uptime: 90},
				{ID: "sensor-02", Type: model.DeviceTypeSensor, Status: model.StatusOffline, LastSeen: now.Add(-time.Hour)},
			},
			Count:  2,
			Online: 1,
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	o := &devicesOptions{server: srv.URL + "/", timeout: time.Second}
	require.NoError(t, o.run(context.Background(), &out))
	assert.Contains(t, out.String(), "spk-01")
	assert.Contains(t, out.String(), "sensor-02")
	assert.Contains(t, out.String(), "1m30s")
	assert.Contains(t, out.String(), "2 devices, 1 online")

	out.Reset()
	o.online = true
	require.NoError(t, o.run(context.Background(), &out))
	assert.NotContains(t, out.String(), "sensor-02")
}

func TestDevicesCommandErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := &devicesOptions{server: srv.URL, timeout: time.Second}
	assert.ErrorContains(t, o.run(context.Background(), &bytes.Buffer{}), "unexpected status")
}

func TestRenderNeverSeen(t *testing.T) {
	s := renderDevices(deviceListResponse{Devices: []model.Device{{ID: "x", Status: model.StatusUnknown}}, Count: 1}, false, time.Now())
	assert.Contains(t, s, "never")
	assert.Contains(t, s, "-")
}

func TestNewAppHasDevicesCommand(t *testing.T) {
	cmd := NewApp().Command()
	sub, _, err := cmd.Find([]string{"devices"})
	require.NoError(t, err)
	assert.Equal(t, "devices", sub.Name())
	assert.NotNil(t, cmd.Flags().Lookup("mqtt.broker"))
	assert.NotNil(t, cmd.Flags().Lookup("config"))
}
