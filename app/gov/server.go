package gov

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vortex-dex/gaugex/app/gov/controller"
	"github.com/vortex-dex/gaugex/app/gov/types"
	"github.com/vortex-dex/gaugex/pkg/utils"
)

// NewServer builds the HTTP server and attaches it to the app.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3001")

	app.Server = &http.Server{Addr: addr, Handler: controller.WithCORS(router)}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
