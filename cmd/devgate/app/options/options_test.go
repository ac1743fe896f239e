package options

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	o := NewGatewayOptions()
	require.NoError(t, o.Complete())
	assert.NoError(t, o.Validate())

	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Same(t, o.MqttOptions, cfg.MqttOptions)
}

func TestCompleteRaisesHTTPTimeout(t *testing.T) {
	o := NewGatewayOptions()
	o.HttpOptions.Timeout = time.Second
	o.CommandOptions.MaxTimeout = 2 * time.Minute

	require.NoError(t, o.Complete())
	assert.Equal(t, 2*time.Minute+5*time.Second, o.HttpOptions.Timeout)
}

func TestValidateAggregatesErrors(t *testing.T) {
	o := NewGatewayOptions()
	o.MqttOptions.Broker = ""
	o.Log.Level = "chatty"
	o.AudioOptions.SampleRate = 44100

	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "sample-rate")
}
