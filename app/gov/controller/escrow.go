package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// queryTime parses the optional ?t= parameter, defaulting to now.
func (c *Controller) queryTime(r *http.Request, now uint64) (uint64, bool) {
	raw := r.URL.Query().Get("t")
	if raw == "" {
		return now, true
	}
	ts, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// HandlePower returns a user's voting power at ?t= (default: now).
func (c *Controller) HandlePower(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]

	c.App.Mu.Lock()
	defer c.App.Mu.Unlock()

	now := c.App.Now()
	ts, ok := c.queryTime(r, now)
	if !ok {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid timestamp"})
		return
	}
	power, err := c.App.Engine.VotingPowerAt(user, ts, now)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":      user,
		"timestamp": ts,
		"power":     power,
	})
}

// HandleTotalPower returns the aggregate voting power at ?t=. This can
// fold pending period boundaries into the global history; a 202 response
// means the catch-up cap was hit and the call should be repeated.
func (c *Controller) HandleTotalPower(w http.ResponseWriter, r *http.Request) {
	c.App.Mu.Lock()
	defer c.App.Mu.Unlock()

	now := c.App.Now()
	ts, ok := c.queryTime(r, now)
	if !ok {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid timestamp"})
		return
	}
	power, err := c.App.Engine.TotalVotingPowerAt(ts, now)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": ts,
		"power":     power,
	})
}

// HandleLockInfo returns the user's lock.
func (c *Controller) HandleLockInfo(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]

	c.App.Mu.Lock()
	defer c.App.Mu.Unlock()

	lock, err := c.App.Engine.LockInfo(user)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":        user,
		"amount":      lock.Amount,
		"start":       c.App.Grid.PeriodStart(lock.Start),
		"end":         c.App.Grid.PeriodStart(lock.End),
		"blacklisted": c.App.Engine.IsBlacklisted(user),
	})
}

// HandleCreateLock creates a lock. Body: {user, amount, duration}.
func (c *Controller) HandleCreateLock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User     string `json:"user"`
		Amount   uint64 `json:"amount"`
		Duration uint64 `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.User == "" {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	c.App.Mu.Lock()
	defer c.App.Mu.Unlock()

	if err := c.App.Engine.CreateLock(body.User, body.Amount, body.Duration, c.App.Now()); err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

// HandleDeposit tops up a lock. Body: {amount}.
func (c *Controller) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	var body struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	c.App.Mu.Lock()
	defer c.App.Mu.Unlock()

	if err := c.App.Engine.DepositFor(user, body.Amount, c.App.Now()); err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleExtend extends a lock's duration. Body: {duration} (seconds added
// to the current end).
func (c *Controller) HandleExtend(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	var body struct {
		Duration uint64 `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	c.App.Mu.Lock()
	defer c.App.Mu.Unlock()

	if err := c.App.Engine.ExtendLock(user, body.Duration, c.App.Now()); err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleWithdraw releases an expired lock and reports the amount the
// token-custody collaborator must pay out.
func (c *Controller) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]

	c.App.Mu.Lock()
	defer c.App.Mu.Unlock()

	amount, err := c.App.Engine.Withdraw(user, c.App.Now())
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":   user,
		"amount": amount,
	})
}

// HandleBlacklist updates the blacklist. Body: {add: [...], remove: [...]}.
func (c *Controller) HandleBlacklist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Add    []string `json:"add"`
		Remove []string `json:"remove"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	c.App.Mu.Lock()
	defer c.App.Mu.Unlock()

	now := c.App.Now()
	if len(body.Add) > 0 {
		if err := c.App.Engine.Blacklist(body.Add, now); err != nil {
			c.writeError(w, err)
			return
		}
	}
	if len(body.Remove) > 0 {
		if err := c.App.Engine.Unblacklist(body.Remove, now); err != nil {
			c.writeError(w, err)
			return
		}
	}
	if len(body.Add) == 0 && len(body.Remove) == 0 {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "add and remove are both empty"})
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
