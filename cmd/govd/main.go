package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vortex-dex/gaugex/app/gov"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := gov.Initialize(ctx)

	if err := gov.SetupScheduler(app); err != nil {
		app.Logger.Fatal("Unable to initialize scheduler", zap.Error(err))
	}

	serverErr := gov.NewServer(app)
	if serverErr != nil {
		app.Logger.Fatal("Unable to initialize server", zap.Error(serverErr))
	}

	app.Start(ctx)
}
