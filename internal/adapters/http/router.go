package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"

	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/auth"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	identityKey  = "identity"
	sessionToken = "token"
)

// bearerToken looks in the Authorization header, then the token query
// parameter, then the cookie session.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if q := c.Query("token"); q != "" {
		return q
	}
	if v, ok := sessions.Default(c).Get(sessionToken).(string); ok {
		return v
	}
	return ""
}

// AuthMiddleware rejects the request with 401 before any handler runs
// unless the token verifies.
func AuthMiddleware(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := v.Verify(bearerToken(c))
		if err != nil {
			log.Debug().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("rejected token")
			c.AbortWithStatusJSON(nethttp.StatusUnauthorized, gin.H{"code": domain.Code(err), "message": "unauthorized"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identity(c *gin.Context) domain.Identity {
	id, _ := c.MustGet(identityKey).(domain.Identity)
	return id
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nethttp.StatusNotFound
	case errors.Is(err, domain.ErrBadRequest):
		return nethttp.StatusBadRequest
	case errors.Is(err, domain.ErrResource):
		return nethttp.StatusServiceUnavailable
	default:
		return nethttp.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errorStatus(err), gin.H{"code": domain.Code(err), "message": err.Error()})
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, verifier auth.Verifier, limiter *signal.RoomRateLimiter) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: nethttp.SameSiteLaxMode})
	r.Use(sessions.Sessions("HuddleSessions", store))

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"status": "ok", "sessions": o.Registry.Count()})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(o, limiter, signal.Settings{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})

	api := r.Group("/api")
	api.POST("/session", func(c *gin.Context) {
		var body struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.AbortWithStatusJSON(nethttp.StatusBadRequest, gin.H{"code": "bad_request", "message": err.Error()})
			return
		}
		id, err := verifier.Verify(body.Token)
		if err != nil {
			c.AbortWithStatusJSON(nethttp.StatusUnauthorized, gin.H{"code": domain.Code(err), "message": "unauthorized"})
			return
		}
		s := sessions.Default(c)
		s.Set(sessionToken, body.Token)
		if err := s.Save(); err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(nethttp.StatusOK, id)
	})

	authed := api.Group("", AuthMiddleware(verifier))
	authed.GET("/ws/signal", func(c *gin.Context) {
		room, err := domain.ParseRoomID(c.Query("room"))
		if err != nil {
			abortWith(c, err)
			return
		}
		log.Info().Str("module", "adapters.http").Str("room", string(room)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c, identity(c), room)
	})
	authed.GET("/rooms", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, o.Rooms.List())
	})
	authed.GET("/rooms/:id", func(c *gin.Context) {
		room, err := o.Rooms.Get(domain.RoomID(c.Param("id")))
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(nethttp.StatusOK, room.Snapshot())
	})
	authed.GET("/rtp-capabilities", func(c *gin.Context) {
		caps, err := o.RTPCapabilities()
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(nethttp.StatusOK, caps)
	})

	return r
}
