// Package main is the entry point for turncore: it wires together the
// visualizer event forwarder, the task lifecycle manager, and an optional
// read-only debug HTTP surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/turnviz/internal/common/appctx"
	"github.com/kandev/turnviz/internal/common/config"
	"github.com/kandev/turnviz/internal/common/logger"
	"github.com/kandev/turnviz/internal/debug"
	"github.com/kandev/turnviz/internal/turn"
	"github.com/kandev/turnviz/internal/visualizer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting turncore")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopCh := make(chan struct{})
	defer close(stopCh)

	forwarder := visualizer.NewFromEnv(log, visualizer.Options{
		QueueCapacity: cfg.Visualizer.QueueCapacity,
		MinBackoff:    cfg.Visualizer.MinBackoff(),
		MaxBackoff:    cfg.Visualizer.MaxBackoff(),
	})
	defer forwarder.Close()

	if forwarder.Disabled() {
		log.Info("visualizer forwarder disabled (no sink url configured)")
	} else {
		log.Info("visualizer forwarder started")
	}

	conversationID := uuid.NewString()
	sessionVisualizer := visualizer.NewSessionVisualizer(conversationID, forwarder)

	session := &turn.SessionContext{
		ConversationID: conversationID,
		Cwd:            mustGetwd(log),
	}

	hostCallbacks := turn.HostCallbacks{
		OnTaskComplete: func(subID string, lastMessage *string) {
			log.WithSubID(subID).Info("task completed")
		},
		OnTurnAborted: func(subID string, kind turn.TaskKind, reason turn.AbortReason) {
			log.WithSubID(subID).Info("turn aborted",
				zap.String("kind", string(kind)), zap.String("reason", string(reason)))
		},
	}

	manager := turn.NewManager(session, hostCallbacks, sessionVisualizer, log)

	if cfg.Debug.Addr == "" {
		log.Info("debug surface disabled (no debug.addr configured)")
		waitForShutdown(log, cancel)
		shutdownTasks(log, manager, stopCh)
		return
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	debug.RegisterRoutes(router, log, forwarder, managerSnapshotAdapter{manager})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "turncore"})
	})

	server := &http.Server{
		Addr:    cfg.Debug.Addr,
		Handler: router,
	}

	go func() {
		log.Info("debug surface listening", zap.String("addr", cfg.Debug.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("debug server failed", zap.Error(err))
		}
	}()

	waitForShutdown(log, cancel)
	shutdownTasks(log, manager, stopCh)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("debug server shutdown error", zap.Error(err))
	}
}

// shutdownTasks aborts any in-flight task and waits at most 5 seconds for
// AbortAllTasks to return. The wait is bounded by a context detached from
// the already-cancelled root context; the runner Abort hooks themselves are
// called by the manager with context.Background(), not with this context.
func shutdownTasks(log *logger.Logger, manager *turn.Manager, stopCh <-chan struct{}) {
	drainCtx, drainCancel := appctx.Detached(context.Background(), stopCh, 5*time.Second)
	defer drainCancel()

	done := make(chan struct{})
	go func() {
		manager.AbortAllTasks(turn.ReasonManagerShutdown)
		close(done)
	}()

	select {
	case <-done:
	case <-drainCtx.Done():
		log.Warn("timed out waiting for tasks to abort during shutdown")
	}
}

func waitForShutdown(log *logger.Logger, cancel context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down turncore")
	cancel()
}

func mustGetwd(log *logger.Logger) string {
	cwd, err := os.Getwd()
	if err != nil {
		log.Warn("failed to resolve working directory", zap.Error(err))
		return ""
	}
	return cwd
}

// managerSnapshotAdapter adapts *turn.Manager to debug.TurnStatus, since
// the turn package has no reason to know about the debug package's
// exported shapes.
type managerSnapshotAdapter struct {
	manager *turn.Manager
}

func (a managerSnapshotAdapter) Snapshot() []debug.TaskSnapshot {
	snaps := a.manager.Snapshot()
	out := make([]debug.TaskSnapshot, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, debug.TaskSnapshot{SubID: s.SubID, Kind: string(s.Kind)})
	}
	return out
}
