package mqtt

import (
	"context"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// TopicMatches reports whether topic matches filter. Both + and # wildcards
// are supported; a shared subscription prefix ($share/<group>/) is ignored.
func TopicMatches(filter, topic string) bool {
	filter = topicFilter(filter)
	if filter == topic {
		return true
	}

	if !strings.ContainsAny(filter, "+#") {
		return false
	}

	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, part := range filterParts {
		if part == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != "+" && part != topicParts[i] {
			return false
		}
	}

	return len(filterParts) == len(topicParts)
}

func topicFilter(filter string) string {
	if strings.HasPrefix(filter, "$share/") {
		// $share/<group>/<topic>
		parts := strings.SplitN(filter, "/", 3)
		if len(parts) == 3 {
			return parts[2]
		}
	}
	return filter
}

// awaitConnected polls connected with exponential backoff until it reports
// true or the window elapses.
func awaitConnected(ctx context.Context, window time.Duration, connected func() bool) error {
	if connected() {
		return nil
	}
	if window <= 0 {
		return ErrNotConnected
	}

	waitCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	backoff := wait.Backoff{
		Duration: 20 * time.Millisecond,
		Factor:   2,
		Jitter:   0.1,
		Steps:    8,
	}
	err := wait.ExponentialBackoffWithContext(waitCtx, backoff, func(context.Context) (bool, error) {
		return connected(), nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrNotConnected
}
