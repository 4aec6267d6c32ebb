// Package gov wires the voting-escrow engine, the gauge vote ledger and
// the tally engine into one HTTP service with a real-time event stream and
// a cron-driven epoch settlement loop.
package gov

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vortex-dex/gaugex/app/gov/types"
	"github.com/vortex-dex/gaugex/pkg/escrow"
	"github.com/vortex-dex/gaugex/pkg/events"
	"github.com/vortex-dex/gaugex/pkg/gauge"
	"github.com/vortex-dex/gaugex/pkg/logging"
	"github.com/vortex-dex/gaugex/pkg/redis"
	"github.com/vortex-dex/gaugex/pkg/retry"
	"github.com/vortex-dex/gaugex/pkg/schedule"
	"github.com/vortex-dex/gaugex/pkg/store"
	"github.com/vortex-dex/gaugex/pkg/utils"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	grid := schedule.Grid{
		PeriodSeconds:  utils.EnvUint64("PERIOD_SECONDS", schedule.WeekSeconds),
		MinLockPeriods: utils.EnvUint64("MIN_LOCK_PERIODS", 1),
		MaxLockPeriods: utils.EnvUint64("MAX_LOCK_PERIODS", 104),
	}
	gaugeCfg := gauge.Config{
		MaxGaugesPerUser: utils.EnvInt("MAX_GAUGES_PER_USER", 5),
		CooldownPeriods:  utils.EnvUint64("VOTE_COOLDOWN_PERIODS", 1),
		MaxWeightDelta:   envDecimal("MAX_WEIGHT_DELTA_PER_EPOCH", "0.2"),
	}
	catchUpLimit := utils.EnvInt("CATCHUP_LIMIT", 52)

	st, err := store.Open(utils.Env("DB_PATH", "data/gaugex"), logger)
	if err != nil {
		logger.Fatal("Unable to open store", zap.Error(err))
	}

	// Redis is optional: without it the websocket feed still works, only
	// the external Pub/Sub bridge is disabled.
	var redisClient *redis.Client
	if utils.Env("REDIS_ENABLED", "false") == "true" {
		connectErr := retry.WithBackoff(ctx, retry.DefaultConfig(), logger, "redis connect", func() error {
			var cerr error
			redisClient, cerr = redis.NewClient(ctx, logger)
			return cerr
		})
		if connectErr != nil {
			logger.Warn("Failed to initialize Redis client - external event bridge disabled",
				zap.Error(connectErr))
			redisClient = nil
		}
	} else {
		logger.Info("Redis disabled - external event bridge not available")
	}

	hub := events.NewHub(st, redisClient, logger)

	clock := func() uint64 { return uint64(time.Now().Unix()) }
	engine := escrow.NewEngine(grid, catchUpLimit, clock(), hub, logger)
	ledger := gauge.NewLedger(gaugeCfg, grid, engine, hub, logger)
	tally := gauge.NewTally(gaugeCfg, ledger, engine, st, hub, logger)

	app := &types.App{
		Engine:      engine,
		Gauges:      ledger,
		Tally:       tally,
		Store:       st,
		Hub:         hub,
		Grid:        grid,
		RedisClient: redisClient,
		Clock:       clock,
		Logger:      logger,
	}

	return app
}

func envDecimal(key, def string) decimal.Decimal {
	v, err := decimal.NewFromString(utils.Env(key, def))
	if err != nil {
		v, _ = decimal.NewFromString(def)
	}
	return v
}
