package mqtt_test

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/devgate/pkg/log"
	"github.com/autopeer-io/devgate/pkg/mqtt"
)

// ExampleNewClient shows the wiring used against a real broker. It is not run
// as part of the test suite because it needs a broker on localhost.
func ExampleNewClient() {
	cfg := &mqtt.ClientConfig{
		BrokerURL:           "tcp://localhost:1883",
		ClientID:            "devgate-example",
		KeepAlive:           60,
		ConnectTimeout:      5 * time.Second,
		PublishRetryTimeout: 2 * time.Second,
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}
	defer client.Disconnect(ctx)

	// Subscriptions made before the connection is up are sent on connect
	// and reinstated after every reconnect.
	_, err = client.Subscribe(ctx, "rapidreach/+/heartbeat", 1, func(ctx context.Context, msg *mqtt.Message) {
		fmt.Printf("heartbeat on %s: %s\n", msg.Topic, msg.Payload)
	})
	if err != nil {
		log.Error(err, "Failed to subscribe")
	}

	if err := client.AwaitConnection(ctx); err != nil {
		return
	}
	_ = client.Publish(ctx, "rapidreach/spk-01/cli/command", 1, false, []byte("status"),
		mqtt.WithCorrelationData([]byte("rapidreach/spk-01/1/abc")))
}

func ExampleMemoryBroker() {
	ctx := context.Background()
	broker := mqtt.NewMemoryBroker()

	gateway := broker.NewClient(nil)
	device := broker.NewClient(nil)
	_ = gateway.Start(ctx)
	_ = device.Start(ctx)

	got := make(chan string, 1)
	_, _ = gateway.Subscribe(ctx, "rapidreach/+/cli/response", 1, func(_ context.Context, msg *mqtt.Message) {
		got <- fmt.Sprintf("%s => %s", msg.Topic, msg.Payload)
	})

	_ = device.Publish(ctx, "rapidreach/spk-01/cli/response", 1, false, []byte("ok"))
	fmt.Println(<-got)
	// Output: rapidreach/spk-01/cli/response => ok
}
