package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vortex-dex/gaugex/pkg/gauge"
)

// HandleGauges lists registered gauges.
func (c *Controller) HandleGauges(w http.ResponseWriter, r *http.Request) {
	c.App.Mu.Lock()
	defer c.App.Mu.Unlock()

	c.writeJSON(w, http.StatusOK, map[string]interface{}{"gauges": c.App.Gauges.Gauges()})
}

// HandleWeights returns the settled weight snapshot for an epoch.
func (c *Controller) HandleWeights(w http.ResponseWriter, r *http.Request) {
	epoch, err := strconv.ParseUint(mux.Vars(r)["epoch"], 10, 64)
	if err != nil {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid epoch"})
		return
	}

	snap, ok, loadErr := c.App.Store.Snapshot(epoch)
	if loadErr != nil {
		c.writeError(w, loadErr)
		return
	}
	if !ok {
		c.writeJSON(w, http.StatusNotFound, map[string]string{"error": "epoch not tallied"})
		return
	}
	c.writeJSON(w, http.StatusOK, snap)
}

// HandleLatestWeights returns the most recently settled snapshot.
func (c *Controller) HandleLatestWeights(w http.ResponseWriter, r *http.Request) {
	snap, ok, err := c.App.Store.LatestSnapshot()
	if err != nil {
		c.writeError(w, err)
		return
	}
	if !ok {
		c.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no epoch tallied yet"})
		return
	}
	c.writeJSON(w, http.StatusOK, snap)
}

// HandleRegisterGauge registers a gauge. Body: {gauge_id}.
func (c *Controller) HandleRegisterGauge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GaugeID string `json:"gauge_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.GaugeID == "" {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	c.App.Mu.Lock()
	defer c.App.Mu.Unlock()

	if err := c.App.Gauges.RegisterGauge(body.GaugeID, c.App.Now()); err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

// HandleDeregisterGauge removes a gauge from the registry.
func (c *Controller) HandleDeregisterGauge(w http.ResponseWriter, r *http.Request) {
	gaugeID := mux.Vars(r)["gauge"]

	c.App.Mu.Lock()
	defer c.App.Mu.Unlock()

	if err := c.App.Gauges.DeregisterGauge(gaugeID, c.App.Now()); err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCastVote replaces a user's allocation set. Body:
// {allocations: [{gauge_id, fraction}, ...]}.
func (c *Controller) HandleCastVote(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	var body struct {
		Allocations []gauge.Allocation `json:"allocations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	c.App.Mu.Lock()
	defer c.App.Mu.Unlock()

	if err := c.App.Gauges.CastVote(user, body.Allocations, c.App.Now()); err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleRemoveVote drops one gauge from a user's allocation set.
func (c *Controller) HandleRemoveVote(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	c.App.Mu.Lock()
	defer c.App.Mu.Unlock()

	if err := c.App.Gauges.RemoveVote(vars["user"], vars["gauge"], c.App.Now()); err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleTally settles an epoch.
func (c *Controller) HandleTally(w http.ResponseWriter, r *http.Request) {
	epoch, err := strconv.ParseUint(mux.Vars(r)["epoch"], 10, 64)
	if err != nil {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid epoch"})
		return
	}

	c.App.Mu.Lock()
	defer c.App.Mu.Unlock()

	snap, tallyErr := c.App.Tally.TallyEpoch(epoch, c.App.Now())
	if tallyErr != nil {
		c.writeError(w, tallyErr)
		return
	}
	c.writeJSON(w, http.StatusOK, snap)
}

// HandleEvents pages through the durable event log.
func (c *Controller) HandleEvents(w http.ResponseWriter, r *http.Request) {
	from, _ := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 1000 {
		limit = 100
	}

	evs, loadErr := c.App.Store.Events(from, limit)
	if loadErr != nil {
		c.writeError(w, loadErr)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]interface{}{"events": evs})
}
