package controller

import (
	"net/http"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient != nil {
		if err := c.App.RedisClient.Health(r.Context()); err != nil {
			c.writeJSON(w, http.StatusInternalServerError,
				map[string]string{"status": "errored", "error": "redis connection error"})
			return
		}
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
