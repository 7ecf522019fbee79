// Package httpapi wires the gin router and the identity middleware in
// front of the websocket endpoints.
package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relay/internal/adapters/ws"
	"github.com/dkeye/relay/internal/config"
	"github.com/dkeye/relay/internal/core"
)

func SetupRouter(ctx context.Context, cfg *config.Config, users core.UserStore, h *ws.Handler) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(IdentityMiddleware(cfg.Secret, users))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	r.GET("/ws/chat/:room", func(c *gin.Context) {
		h.HandleChat(ctx, c)
	})
	r.GET("/ws/video-call/:room", func(c *gin.Context) {
		h.HandleVideo(ctx, c)
	})

	log.Info().Str("module", "httpapi").Msg("router setup")
	return r
}
