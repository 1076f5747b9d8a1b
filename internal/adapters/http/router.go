package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechan/internal/adapters/signal"
	"github.com/dkeye/voicechan/internal/config"
	"github.com/dkeye/voicechan/internal/domain"
)

const (
	userHeader = "X-User-Id"
	sessionKey = "uid"
)

// IdentityMiddleware resolves the caller. An upstream auth proxy sets
// X-User-Id; anyone else gets a guest id kept in the cookie session.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h := c.GetHeader(userHeader); h != "" {
			uid := domain.UserID(h)
			if err := uid.Validate(); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.Set(signal.UserIDKey, string(uid))
			c.Next()
			return
		}

		session := sessions.Default(c)
		uid, _ := session.Get(sessionKey).(string)
		if uid == "" {
			uid = string(domain.NewGuestID())
			session.Set(sessionKey, uid)
			if err := session.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set(signal.UserIDKey, uid)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.SignalWSController, admin Admin) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceSessions", store))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/signal", IdentityMiddleware(), func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("user", c.GetString(signal.UserIDKey)).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	h := &adminHandlers{admin: admin}
	guarded := api.Group("", AdminAuth(cfg.AdminToken))
	guarded.GET("/channels", h.listChannels)
	guarded.GET("/channels/:id", h.getChannel)
	guarded.POST("/admin/users/:id/server-state", h.setServerState)
	guarded.POST("/admin/users/:id/move", h.moveUser)
	guarded.DELETE("/admin/users/:id", h.kickUser)

	return r
}
