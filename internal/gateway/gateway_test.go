package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/devgate/pkg/mqtt"
	"github.com/autopeer-io/devgate/pkg/options"
)

func testConfig() *Config {
	mo := options.NewMqttOptions()
	mo.Broker = mqtt.MemoryBrokerURL
	ho := options.NewHttpOptions()
	ho.Addr = "127.0.0.1:0"
	return &Config{
		MqttOptions:     mo,
		HttpOptions:     ho,
		S3Options:       options.NewS3Options(),
		CommandOptions:  options.NewCommandOptions(),
		PresenceOptions: options.NewPresenceOptions(),
		AudioOptions:    options.NewAudioOptions(),
		BatchOptions:    options.NewBatchOptions(),
	}
}

func TestNewGatewayWithMemoryBroker(t *testing.T) {
	cfg := testConfig()
	gw, err := cfg.NewGateway(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}

func TestMemoryBrokerSelection(t *testing.T) {
	cfg := testConfig()
	client, err := cfg.newMQTTClient()
	require.NoError(t, err)
	assert.IsType(t, &mqtt.MemoryClient{}, client)

	cfg.MqttOptions.Broker = "tcp://localhost:1883"
	client, err = cfg.newMQTTClient()
	require.NoError(t, err)
	_, isMemory := client.(*mqtt.MemoryClient)
	assert.False(t, isMemory)
}

func TestArchiverDisabledByDefault(t *testing.T) {
	a, err := testConfig().newArchiver(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a)
}
