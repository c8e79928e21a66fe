package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/avelov/tollcall/internal/adapters/signal"
	"github.com/avelov/tollcall/internal/app/orch"
	"github.com/avelov/tollcall/internal/auth"
	"github.com/avelov/tollcall/internal/config"
	"github.com/avelov/tollcall/internal/core"
	"github.com/avelov/tollcall/internal/domain"
)

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctl *signal.SignalWSController, ledger core.Ledger, a *auth.Auth) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("TollcallSessions", store))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.Mode == "debug" {
		// Local-only token mint; real deployments get tokens from the
		// account service. Without a user_id a fresh identity is minted and
		// registered in the directory.
		r.POST("/api/v1/token", func(c *gin.Context) {
			var req struct {
				UserID   string `json:"user_id"`
				Username string `json:"username"`
			}
			if err := c.ShouldBindJSON(&req); err != nil || (req.UserID == "" && req.Username == "") {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad payload"})
				return
			}
			uid := req.UserID
			if uid == "" {
				u, err := domain.NewUser(req.Username)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
				o.Registry.PutUser(u)
				uid = string(u.ID)
			}
			token, err := a.GenerateToken(uid, req.Username)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token, "user_id": uid})
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api", a.Middleware())

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("user", c.GetString("user_id")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	api.GET("/v1/users", func(c *gin.Context) {
		users := o.Registry.Users(c.Query("search"))
		c.JSON(http.StatusOK, gin.H{"data": users})
	})

	api.GET("/v1/balance", func(c *gin.Context) {
		uid := domain.UserID(c.GetString("user_id"))
		c.JSON(http.StatusOK, gin.H{
			"balance": ledger.Balance(uid),
			"tariff":  cfg.PerMinuteRate,
		})
	})

	api.GET("/v1/calls/active", func(c *gin.Context) {
		active := o.Registry.Active()
		out := make([]core.SessionDTO, 0, len(active))
		for _, s := range active {
			out = append(out, s.Snapshot())
		}
		c.JSON(http.StatusOK, gin.H{"data": out})
	})

	return r
}
