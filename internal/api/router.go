package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/gallery/internal/api/handlers"
	"github.com/your-org/gallery/internal/api/ws"
	"github.com/your-org/gallery/internal/auth"
	"github.com/your-org/gallery/internal/facedir"
	"github.com/your-org/gallery/internal/filter"
	"github.com/your-org/gallery/internal/matchcache"
)

type RouterConfig struct {
	APIKey string
	Checks []handlers.ReadinessCheck

	Filter   handlers.Filterer
	Sessions handlers.Sessions

	Directory         facedir.Directory
	Collection        string
	RegisterThreshold float64
	MaxImageBytes     int64

	Jobs            handlers.JobPublisher
	Cache           *matchcache.Cache
	CacheMaxEntries int
	CacheTTL        time.Duration
	Mapping         filter.MappingProvider
	Hub             *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  false,
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-API-Key", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")

	// Attendee endpoints; identity comes from the session cookie.
	filterH := handlers.NewFilterHandler(cfg.Filter, cfg.Sessions)
	v1.POST("/filter", filterH.Filter)

	faceH := handlers.NewFaceHandler(cfg.Directory, cfg.Sessions, cfg.Collection, cfg.RegisterThreshold, cfg.MaxImageBytes)
	v1.POST("/faces", faceH.Register)
	v1.GET("/faces/me", faceH.Status)
	v1.DELETE("/faces", faceH.Forget)

	// Admin (with auth)
	admin := v1.Group("/admin")
	admin.Use(auth.APIKeyMiddleware(cfg.APIKey))

	adminH := handlers.NewAdminHandler(cfg.Jobs, cfg.Cache, cfg.Mapping, cfg.CacheMaxEntries, cfg.CacheTTL)
	admin.POST("/preindex", adminH.PreIndex)
	admin.GET("/cache", adminH.CacheStats)
	admin.DELETE("/cache", adminH.PurgeCache)
	admin.GET("/ws", cfg.Hub.HandleWS)

	return r
}
