package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"ripple-chat/config"
	"ripple-chat/internal/bridge"
	"ripple-chat/internal/relay"
	"ripple-chat/pkg/logger"
)

// The notifier is the background execution context: it stays alive with no
// foreground window open, receives push events over a webhook, surfaces OS
// notifications, and relays call signals to foreground sessions.
func main() {
	cfg := config.LoadConfig()
	lg := logger.New(cfg.AppMode)
	defer lg.Sync()

	relayServer := relay.NewServer(lg)
	b := bridge.NewBridge(bridge.NewLogNotifier(lg), relayServer, nil, lg)

	if cfg.AppMode == logger.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/relay", gin.WrapH(relayServer))

	r.POST("/push", func(c *gin.Context) {
		var payload bridge.PushPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		if err := b.HandlePush(&payload); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/push/action", func(c *gin.Context) {
		var req struct {
			Action string            `json:"action"`
			Signal relay.CallSignal  `json:"signal"`
			Data   map[string]string `json:"data"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		if err := b.HandleAction(req.Action, &req.Signal, req.Data["recipient_name"]); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{Addr: cfg.PushListenAddr, Handler: r}
	go func() {
		lg.Infof("notifier listening on %s", cfg.PushListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start notifier: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Errorf("notifier shutdown: %v", err)
	}
}
