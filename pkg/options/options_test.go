package options

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	groups := map[string]IOptions{
		"mqtt":     NewMqttOptions(),
		"http":     NewHttpOptions(),
		"s3":       NewS3Options(),
		"command":  NewCommandOptions(),
		"presence": NewPresenceOptions(),
		"audio":    NewAudioOptions(),
		"batch":    NewBatchOptions(),
	}
	for name, o := range groups {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, o.Validate())
		})
	}
}

func TestCommandOptionsValidate(t *testing.T) {
	o := NewCommandOptions()
	o.DefaultTimeout = 0
	o.QoS = 3
	o.MaxTimeout = -time.Second

	errs := o.Validate()
	assert.Len(t, errs, 3)
}

func TestS3OptionsOnlyValidatedWhenEnabled(t *testing.T) {
	o := NewS3Options()
	o.BucketName = ""
	assert.Empty(t, o.Validate())

	o.Enabled = true
	assert.Len(t, o.Validate(), 1)
}

func TestMqttOptionsFlags(t *testing.T) {
	o := NewMqttOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--mqtt.broker=memory://",
		"--mqtt.topic-root=site-a",
		"--mqtt.publish-retry-timeout=500ms",
	}))

	assert.True(t, o.UseMemoryBroker())
	cfg := o.ToClientConfig()
	assert.Equal(t, "memory://", cfg.BrokerURL)
	assert.Equal(t, 500*time.Millisecond, cfg.PublishRetryTimeout)
	assert.Equal(t, uint16(60), cfg.KeepAlive)
	assert.Equal(t, "site-a", o.TopicRoot)
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("0.0.0.0:8080"))
	assert.NoError(t, ValidateAddress(":8080"))
	assert.Error(t, ValidateAddress("8080"))
	assert.Error(t, ValidateAddress("127.0.0.1:99999"))
	assert.Error(t, ValidateAddress("127.0.0.1:http"))
}
