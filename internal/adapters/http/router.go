package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dkeye/cordor/internal/adapters/ratelimit"
	"github.com/dkeye/cordor/internal/adapters/signal"
	"github.com/dkeye/cordor/internal/app/orch"
	"github.com/dkeye/cordor/internal/core"
	"github.com/dkeye/cordor/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const identityKey = "identity"

type Deps struct {
	Orch     *orch.Orchestrator
	Identity core.IdentityResolver
	Limiter  ratelimit.Limiter
	Signal   signal.Options
}

// tokenFrom reads a bearer token from the Authorization header, falling back
// to the token query parameter (browsers cannot set headers on WebSocket
// upgrades).
func tokenFrom(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query("token")
}

// AuthMiddleware rejects the request with 401 unless the token resolves to
// an identity. Resolver failures other than a rejected token are 503.
func AuthMiddleware(resolver core.IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFrom(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		ident, err := resolver.Authenticate(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, core.ErrUnauthenticated) {
				log.Error().Err(err).Str("module", "adapters.http").Msg("identity resolver")
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(identityKey, ident)
		c.Next()
	}
}

func identityOf(c *gin.Context) (*domain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	ident, ok := v.(*domain.Identity)
	return ident, ok && ident != nil
}

func SetupRouter(ctx context.Context, mode string, deps Deps) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": deps.Orch.Registry.Count(),
			"rooms":       len(deps.Orch.Rooms.List()),
		})
	})

	ctrl := signal.NewSignalWSController(deps.Orch, deps.Limiter, deps.Signal)

	api := r.Group("/api", AuthMiddleware(deps.Identity))
	api.GET("/servers", func(c *gin.Context) {
		servers, err := deps.Orch.Servers(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("list servers")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
			return
		}
		c.JSON(http.StatusOK, servers)
	})
	api.GET("/ws", func(c *gin.Context) {
		ident, ok := identityOf(c)
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		ctrl.HandleSignal(ctx, c, ident)
	})

	log.Info().Str("module", "adapters.http").Str("mode", mode).Msg("router setup")
	return r
}
