package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vortex-dex/gaugex/app/gov/types"
	"github.com/vortex-dex/gaugex/pkg/escrow"
	"github.com/vortex-dex/gaugex/pkg/gauge"
	"github.com/vortex-dex/gaugex/pkg/utils"
)

type Controller struct {
	App        *types.App
	AdminToken string
	AuthUser   string
	AuthHash   []byte
	JWTSecret  []byte
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	adminToken := utils.Env("ADMIN_TOKEN", "devtoken")
	adminUser := utils.Env("ADMIN_USER", "admin")
	adminPass := utils.Env("ADMIN_PASSWORD", "admin")
	jwtSecret := []byte(utils.Env("SESSION_SECRET", "change-me-please"))

	phash, _ := utils.HashOrRead(adminPass)

	return &Controller{
		App:        app,
		AdminToken: adminToken,
		AuthUser:   adminUser,
		AuthHash:   phash,
		JWTSecret:  jwtSecret,
	}
}

// NewRouter returns a new router with all the routes defined in this file.
// Read routes are open; lock mutations, votes, gauge registry and tally
// runs require the write credential (token-custody collaborator / admin).
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods("GET")
	r.HandleFunc("/auth/login", c.HandleLogin).Methods("POST")

	// read-only interface (assembly, emissions distributor)
	r.HandleFunc("/power/total", c.HandleTotalPower).Methods("GET")
	r.HandleFunc("/power/{user}", c.HandlePower).Methods("GET")
	r.HandleFunc("/locks/{user}", c.HandleLockInfo).Methods("GET")
	r.HandleFunc("/gauges", c.HandleGauges).Methods("GET")
	r.HandleFunc("/gauges/weights/latest", c.HandleLatestWeights).Methods("GET")
	r.HandleFunc("/gauges/weights/{epoch}", c.HandleWeights).Methods("GET")
	r.HandleFunc("/events", c.HandleEvents).Methods("GET")
	r.HandleFunc("/ws", c.HandleWebSocket)

	// write interface
	w := r.NewRoute().Subrouter()
	w.Use(c.RequireAuth)
	w.HandleFunc("/locks", c.HandleCreateLock).Methods("POST")
	w.HandleFunc("/locks/{user}/deposit", c.HandleDeposit).Methods("POST")
	w.HandleFunc("/locks/{user}/extend", c.HandleExtend).Methods("POST")
	w.HandleFunc("/locks/{user}/withdraw", c.HandleWithdraw).Methods("POST")
	w.HandleFunc("/votes/{user}", c.HandleCastVote).Methods("POST")
	w.HandleFunc("/votes/{user}/{gauge}", c.HandleRemoveVote).Methods("DELETE")
	w.HandleFunc("/gauges", c.HandleRegisterGauge).Methods("POST")
	w.HandleFunc("/gauges/{gauge}", c.HandleDeregisterGauge).Methods("DELETE")
	w.HandleFunc("/tally/{epoch}", c.HandleTally).Methods("POST")
	w.HandleFunc("/blacklist", c.HandleBlacklist).Methods("POST")

	return r, nil
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodDelete+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (c *Controller) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain sentinels onto HTTP statuses. The error string
// carries the user/gauge/timestamp context added at the engine call site.
func (c *Controller) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, escrow.ErrNoLock),
		errors.Is(err, gauge.ErrUnknownGauge):
		status = http.StatusNotFound
	case errors.Is(err, escrow.ErrLockExists),
		errors.Is(err, escrow.ErrLockExpired),
		errors.Is(err, escrow.ErrLockNotExpired),
		errors.Is(err, gauge.ErrGaugeExists),
		errors.Is(err, gauge.ErrAlreadyTallied),
		errors.Is(err, gauge.ErrVoteCooldownActive):
		status = http.StatusConflict
	case errors.Is(err, escrow.ErrBlacklisted):
		status = http.StatusForbidden
	case errors.Is(err, escrow.ErrCatchUpIncomplete):
		// progress-bound signal, not a failure: re-invoke to continue
		status = http.StatusAccepted
	case errors.Is(err, escrow.ErrInvalidDuration),
		errors.Is(err, escrow.ErrZeroAmount),
		errors.Is(err, escrow.ErrAmountOverflow),
		errors.Is(err, escrow.ErrFutureTimestamp),
		errors.Is(err, escrow.ErrEmptyBlacklistUpdate),
		errors.Is(err, gauge.ErrNoVotingPower),
		errors.Is(err, gauge.ErrTooManyGauges),
		errors.Is(err, gauge.ErrFractionOutOfRange),
		errors.Is(err, gauge.ErrDuplicateGauge),
		errors.Is(err, gauge.ErrEpochInFuture):
		status = http.StatusBadRequest
	}
	c.writeJSON(w, status, map[string]string{"error": err.Error()})
}
