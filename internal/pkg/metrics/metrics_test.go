package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetMQTTConnected(t *testing.T) {
	SetMQTTConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(MQTTConnected))
	SetMQTTConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(MQTTConnected))
}

func TestRegisterOnlineDevices(t *testing.T) {
	n := 3
	RegisterOnlineDevices(func() int { return n })
	RegisterOnlineDevices(func() int { return -1 })

	families, err := Registry.Gather()
	require.NoError(t, err)

	var got float64
	found := false
	for _, f := range families {
		if f.GetName() == "devgate_devices_online" {
			got = f.GetMetric()[0].GetGauge().GetValue()
			found = true
		}
	}
	require.True(t, found)
	assert.Equal(t, 3.0, got)
}
