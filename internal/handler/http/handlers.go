package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"collab-board/internal/hub"
)

// Health is a liveness probe for load balancers.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Stats reports how many rooms and collaborators the relay is
// currently carrying.
func Stats(registry *hub.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		rooms, collaborators := registry.Stats()
		c.JSON(http.StatusOK, gin.H{
			"rooms":         rooms,
			"collaborators": collaborators,
		})
	}
}
