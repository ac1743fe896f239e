// Package gateway assembles the device gateway: MQTT transport, presence
// tracking, command correlation, audio alerts and the REST surface.
package gateway

import (
	"context"

	"github.com/autopeer-io/devgate/internal/gateway/presence"
	"github.com/autopeer-io/devgate/internal/gateway/server"
	"github.com/autopeer-io/devgate/pkg/log"
)

// Gateway is a wired, runnable gateway.
type Gateway struct {
	serverManager *server.Manager
	tracker       *presence.Tracker
}

// Run serves until ctx is cancelled or a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	log.Info("Starting device gateway", "livenessWindow", g.tracker.Window())
	defer log.Info("Device gateway stopped")
	return g.serverManager.Start(ctx)
}
