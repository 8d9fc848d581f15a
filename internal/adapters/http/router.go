package http

import (
	"context"
	"net/http"
	"os"

	"github.com/dkeye/CallRelay/internal/adapters/auth"
	"github.com/dkeye/CallRelay/internal/adapters/signal"
	"github.com/dkeye/CallRelay/internal/app/orch"
	"github.com/dkeye/CallRelay/internal/config"
	"github.com/dkeye/CallRelay/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Deps struct {
	Orch       *orch.Orchestrator
	Signal     *signal.SignalWSController
	Verifier   *auth.Verifier
	Metrics    *metrics.Metrics
	ICEServers []webrtc.ICEServer
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(cfg.Mode == "debug"))

	remember := cfg.Secret != ""
	if remember {
		store := cookie.NewStore([]byte(cfg.Secret))
		store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
		r.Use(sessions.Sessions("CallRelaySessions", store))
	}

	if st, err := os.Stat(cfg.StaticPath); err == nil && st.IsDir() {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": d.Orch.Presence.Len()})
	})
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Bool("auth_required", cfg.Auth.Required).Msg("router setup")

	api := r.Group("/api")
	api.Use(auth.Identify(d.Verifier, auth.MiddlewareOptions{
		Required: cfg.Auth.Required,
		Remember: remember,
	}))

	api.GET("/ws/signal", func(c *gin.Context) {
		uid, _ := auth.Identity(c)
		log.Info().Str("module", "adapters.http").Str("identity", string(uid)).Msg("ws signal endpoint hit")
		d.Signal.HandleSignal(ctx, c, uid)
	})

	h := handlers{orch: d.Orch, authRequired: cfg.Auth.Required, iceServers: d.ICEServers}
	api.GET("/calls/history", h.history)
	api.GET("/ice-servers", h.iceServersList)
	api.GET("/online", h.online)

	return r
}
