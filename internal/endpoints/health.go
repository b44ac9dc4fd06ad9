package endpoints

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HandleRoot identifies the service.
func HandleRoot() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":   "media-bot",
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// HandleLive is the liveness probe: the process is up.
func HandleLive() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	}
}

// HandleReady reports readiness. The repository and queue are load-bearing;
// external clients degrade the service without taking it down.
func HandleReady(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		storeOK := deps.Store.Ping(ctx) == nil
		queueOK := deps.Queue.Ping(ctx) == nil

		clients := map[string]bool{}
		if deps.Pipeline != nil {
			clients = deps.Pipeline.HealthCheck(ctx)
		}

		status := "healthy"
		code := http.StatusOK
		switch {
		case !storeOK || !queueOK:
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		default:
			for _, ok := range clients {
				if !ok {
					status = "degraded"
					break
				}
			}
		}

		c.JSON(code, gin.H{
			"status":  status,
			"store":   storeOK,
			"queue":   queueOK,
			"clients": clients,
		})
	}
}
