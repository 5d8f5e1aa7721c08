package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"classattend/internal/auth"
	"classattend/internal/httpmiddleware"
)

// Options configures the router.
type Options struct {
	SigningKey      string
	Issuer          string
	RateLimitPerMin int
	AllowOrigins    []string
	MaxBodyBytes    int64
	Logger          *zap.Logger
}

// NewRouter wires middleware and routes.
func NewRouter(h *Handler, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 16 << 20
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.Logger(logger, "/healthz", "/metrics"))
	r.Use(cors.New(corsConfig(opts.AllowOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	limiter := httpmiddleware.NewSimpleTokenBucket(opts.RateLimitPerMin, opts.RateLimitPerMin)
	v1 := r.Group("/v1",
		httpmiddleware.BodyLimit(opts.MaxBodyBytes),
		auth.Bearer(opts.SigningKey, opts.Issuer),
		limiter.GinMiddleware(principal),
	)

	member := v1.Group("", auth.RequireRole(auth.RoleMember))
	{
		member.POST("/checkins", h.CheckIn)
		member.POST("/enrollment", h.Enroll)
	}

	owner := v1.Group("", auth.RequireRole(auth.RoleOwner))
	{
		owner.POST("/classes/:id/sessions", h.StartSession)
		owner.PUT("/classes/:id/location", h.UpdateLocation)
		owner.POST("/sessions/:id/code", h.IssueCode)
		owner.POST("/sessions/:id/end", h.EndSession)
		owner.GET("/sessions/:id/records", h.Records)
		owner.POST("/sessions/:id/records/:memberId/override", h.Override)
		owner.GET("/records/:id/audit", h.Audit)
		owner.POST("/admin/sweep", h.Sweep)
	}
	return r
}

// principal buckets authenticated requests by token subject.
func principal(c *gin.Context) string {
	if claims, ok := auth.ClaimsFrom(c); ok {
		return "sub:" + claims.Subject
	}
	return httpmiddleware.ClientIP(c)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
	}
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
