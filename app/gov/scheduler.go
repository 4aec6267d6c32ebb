package gov

import (
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vortex-dex/gaugex/app/gov/types"
	"github.com/vortex-dex/gaugex/pkg/escrow"
	"github.com/vortex-dex/gaugex/pkg/gauge"
	"github.com/vortex-dex/gaugex/pkg/utils"
)

// SetupScheduler installs the epoch settlement job. The default schedule
// fires hourly; SettleCurrentEpoch is idempotent per epoch, so firing more
// often than the period width only costs a cheap AlreadyTallied check.
func SetupScheduler(app *types.App) error {
	cronSpec := utils.Env("TALLY_CRON", "0 0 * * * *")

	app.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err := app.Cron.AddFunc(cronSpec, func() {
		SettleCurrentEpoch(app)
	})
	if err != nil {
		return err
	}

	app.Logger.Info("Settlement scheduler installed", zap.String("cronSpec", cronSpec))
	return nil
}

// SettleCurrentEpoch tallies the epoch containing the current time,
// re-invoking while catch-up reports incomplete progress so a long idle
// stretch is folded in bounded slices.
func SettleCurrentEpoch(app *types.App) {
	app.Mu.Lock()
	defer app.Mu.Unlock()

	now := app.Now()
	epoch := app.Grid.Period(now)

	for {
		_, err := app.Tally.TallyEpoch(epoch, now)
		if err == nil {
			app.Logger.Info("Epoch settled", zap.Uint64("epoch", epoch))
			return
		}
		if errors.Is(err, escrow.ErrCatchUpIncomplete) {
			continue
		}
		if errors.Is(err, gauge.ErrAlreadyTallied) {
			app.Logger.Debug("Epoch already settled", zap.Uint64("epoch", epoch))
			return
		}
		app.Logger.Error("Epoch settlement failed", zap.Uint64("epoch", epoch), zap.Error(err))
		return
	}
}
