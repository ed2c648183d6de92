package http

import (
	"context"
	"net/http"
	"path/filepath"
	"slices"
	"time"

	"github.com/dkeye/collabrelay/internal/adapters/signal"
	"github.com/dkeye/collabrelay/internal/app/orch"
	"github.com/dkeye/collabrelay/internal/config"
	"github.com/dkeye/collabrelay/internal/domain"
	"github.com/dkeye/collabrelay/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "ct"

// ClientTokenMiddleware gives every browser a stable token kept in the
// signed session cookie. It only labels logs; it grants nothing.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client token")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

type healthResponse struct {
	Status           string  `json:"status"`
	Sessions         int     `json:"sessions"`
	TotalConnections int     `json:"totalConnections"`
	Uptime           float64 `json:"uptime"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	o := ctl.Orch
	started := time.Now()

	observability.RegisterMetrics()
	observability.RegisterGauges(
		func() int { return o.Stats().Sessions },
		func() int { return o.Stats().Connections },
	)

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Mode == "debug" {
		r.Use(observability.RequestLogger(log.Logger))
	}
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RelaySessions", store))
	r.Use(ClientTokenMiddleware())

	signalHandler := func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	}

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		if websocket.IsWebSocketUpgrade(c.Request) {
			signalHandler(c)
			return
		}
		c.File(filepath.Join(cfg.StaticPath, "index.html"))
	})
	r.GET("/ws", signalHandler)

	r.GET("/health", func(c *gin.Context) {
		stats := o.Stats()
		c.JSON(http.StatusOK, healthResponse{
			Status:           "ok",
			Sessions:         stats.Sessions,
			TotalConnections: stats.Connections,
			Uptime:           time.Since(started).Seconds(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	api.GET("/ws/signal", signalHandler)

	// GET /api/sessions lists live sessions.
	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": o.Sessions.List()})
	})

	// GET /api/sessions/:id shows one session with its members.
	api.GET("/sessions/:id", func(c *gin.Context) {
		s, ok := o.Sessions.Get(domain.SessionName(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrUnknownSession.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session": s.Info(),
			"members": s.MembersSnapshot(),
		})
	})

	// DELETE /api/sessions/:id ends the session for every member.
	api.DELETE("/sessions/:id", func(c *gin.Context) {
		if !o.EvictSession(domain.SessionName(c.Param("id")), orch.ReasonAdmin) {
			c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrUnknownSession.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	return r
}
