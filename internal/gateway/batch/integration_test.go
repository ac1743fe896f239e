package batch_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/devgate/internal/gateway/batch"
	"github.com/autopeer-io/devgate/internal/gateway/correlator"
	"github.com/autopeer-io/devgate/internal/gateway/core/model"
	"github.com/autopeer-io/devgate/pkg/mqtt"
	"github.com/autopeer-io/devgate/pkg/mqtt/topic"
)

// Devices k = 1..n answer after k*100ms; the batch must take about as long
// as the slowest one and report every answer against its own item.
func TestBatchOverBroker(t *testing.T) {
	ctx := context.Background()
	topics := topic.NewTopicBuilder("")
	broker := mqtt.NewMemoryBroker()

	const n = 4
	for k := 1; k <= n; k++ {
		id := fmt.Sprintf("speaker_%d", k)
		delay := time.Duration(k) * 100 * time.Millisecond

		dev := broker.NewClient(nil)
		require.NoError(t, dev.Start(ctx))
		t.Cleanup(func() { dev.Disconnect(ctx) })

		_, err := dev.Subscribe(ctx, topics.Command(id), 1, func(_ context.Context, msg *mqtt.Message) {
			reply := fmt.Sprintf("%s ran %s", id, msg.Payload)
			time.AfterFunc(delay, func() {
				_ = dev.Publish(ctx, topics.Response(id), 1, false, []byte(reply))
			})
		})
		require.NoError(t, err)
	}

	gw := broker.NewClient(nil)
	require.NoError(t, gw.Start(ctx))
	t.Cleanup(func() { gw.Disconnect(ctx) })

	c, err := correlator.New(correlator.Config{Client: gw, Topics: topics, DefaultTimeout: 2 * time.Second, QoS: 1})
	require.NoError(t, err)

	var reqs []model.CommandRequest
	for k := n; k >= 1; k-- {
		reqs = append(reqs, model.CommandRequest{DeviceID: fmt.Sprintf("speaker_%d", k), Command: fmt.Sprintf("cmd-%d", k)})
	}

	start := time.Now()
	results, err := batch.NewExecutor(c, 100, 8).Execute(ctx, reqs)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Duration(n)*100*time.Millisecond+400*time.Millisecond)
	require.Len(t, results, n)
	for i, r := range results {
		k := n - i
		require.True(t, r.Success, "item %d: %v", i, r.Err)
		assert.Equal(t, fmt.Sprintf("speaker_%d ran cmd-%d", k, k), r.Output)
	}
}
