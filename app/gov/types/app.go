package types

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vortex-dex/gaugex/pkg/escrow"
	"github.com/vortex-dex/gaugex/pkg/events"
	"github.com/vortex-dex/gaugex/pkg/gauge"
	"github.com/vortex-dex/gaugex/pkg/redis"
	"github.com/vortex-dex/gaugex/pkg/schedule"
	"github.com/vortex-dex/gaugex/pkg/store"
)

// App aggregates the governance engines and the service plumbing around
// them.
type App struct {
	Engine *escrow.Engine
	Gauges *gauge.Ledger
	Tally  *gauge.Tally
	Store  *store.Store
	Hub    *events.Hub
	Grid   schedule.Grid

	// RedisClient bridges events to external consumers; nil when
	// disabled.
	RedisClient *redis.Client

	// Mu serializes all engine and ledger access: the governance state
	// machine is transactional and single-writer, every external call
	// runs to completion as one atomic unit.
	Mu sync.Mutex

	// Clock supplies the current time in unix seconds. Overridden in
	// tests; the engines themselves never read the wall clock.
	Clock func() uint64

	// Cron drives epoch settlement at period boundaries.
	Cron *cron.Cron

	// Zap Logger
	Logger *zap.Logger
	// Server handles incoming client requests.
	Server *http.Server
}

// Now returns the current unix time from the app clock.
func (a *App) Now() uint64 {
	return a.Clock()
}

// Start runs the HTTP server and the settlement scheduler until the
// context is cancelled, then shuts everything down.
func (a *App) Start(ctx context.Context) {
	if a.Cron != nil {
		a.Cron.Start()
	}
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	_ = a.Server.Shutdown(shutdownCtx)
	a.Hub.Close()

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close store", zap.Error(err))
	}
	a.Logger.Info("さようなら!")
}
