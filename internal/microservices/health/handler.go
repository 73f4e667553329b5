package health

import (
	"context"
	"net/http"
	"time"

	"chatrelay/internal/relay"

	"github.com/gin-gonic/gin"
)

const checkTimeout = 2 * time.Second

type Handler struct {
	registry relay.Registry
}

func NewHandler(registry relay.Registry) *Handler {
	return &Handler{registry: registry}
}

// Healthz reports the number of registered connections; 503 when the registry is unreachable
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	ids, err := h.registry.Snapshot(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  "registry unreachable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": len(ids),
	})
}
