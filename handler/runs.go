package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/provinciadigital41-cpu/provincia/service"
)

// RunsHandler exposes recorded pipeline runs to operators.
type RunsHandler struct {
	store service.RunStore
}

func NewRunsHandler(store service.RunStore) *RunsHandler {
	return &RunsHandler{store: store}
}

// List returns the most recent runs, newest first.
func (h *RunsHandler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	runs, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// Get returns a single run with its per-document outcomes.
func (h *RunsHandler) Get(c *gin.Context) {
	id := c.Param("id")

	run, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get run: " + err.Error()})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	c.JSON(http.StatusOK, run)
}
