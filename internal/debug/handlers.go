// Package debug exposes a read-only introspection surface over the
// visualizer forwarder and task lifecycle manager, for operators diagnosing
// a running session without a full visualizer client attached.
package debug

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/turnviz/internal/common/logger"
)

// VisualizerStatus is the subset of *visualizer.Forwarder state exposed
// over HTTP. Declared locally rather than importing visualizer types
// directly so the debug package depends only on plain data.
type VisualizerStatus interface {
	Disabled() bool
	Connected() bool
	QueueDepth() int
	DroppedCount() uint64
}

// TurnStatus is the subset of *turn.Manager state exposed over HTTP.
type TurnStatus interface {
	Snapshot() []TaskSnapshot
}

// TaskSnapshot mirrors turn.Snapshot without importing the turn package.
type TaskSnapshot struct {
	SubID string
	Kind  string
}

// RegisterRoutes wires the read-only debug routes onto router. Either
// dependency may be nil, in which case its route reports a 503 rather
// than panicking.
func RegisterRoutes(router *gin.Engine, log *logger.Logger, visualizer VisualizerStatus, turn TurnStatus) {
	api := router.Group("/debug")
	api.GET("/visualizer", handleVisualizerStatus(log, visualizer))
	api.GET("/turn", handleTurnStatus(log, turn))
}

func handleVisualizerStatus(log *logger.Logger, v VisualizerStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			log.Warn("debug visualizer status requested but no forwarder configured", zap.String("path", c.Request.URL.Path))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "visualizer forwarder not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"disabled":     v.Disabled(),
			"connected":    v.Connected(),
			"queueDepth":   v.QueueDepth(),
			"droppedCount": v.DroppedCount(),
		})
	}
}

func handleTurnStatus(log *logger.Logger, t TurnStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		if t == nil {
			log.Warn("debug turn status requested but no manager configured", zap.String("path", c.Request.URL.Path))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task manager not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": t.Snapshot()})
	}
}
