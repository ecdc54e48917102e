package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"realtime-service/internal/handler"
	"realtime-service/internal/hub"
	"realtime-service/internal/metrics"
	"realtime-service/internal/middleware"
)

// Config holds router dependencies
type Config struct {
	DB          func() *gorm.DB
	Redis       *redis.Client
	Coordinator *hub.Coordinator
	Validator   middleware.TokenValidator
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	BasePath    string
	CORSOrigins string
	WS          handler.WSOptions
}

// Setup sets up the router with all routes and middleware
func Setup(cfg Config) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Recovery(cfg.Logger, cfg.Metrics))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Metrics(cfg.Metrics))

	healthHandler := handler.NewHealthHandler(cfg.DB, cfg.Redis)
	wsHandler := handler.NewWSHandler(cfg.Coordinator, cfg.WS, cfg.Logger)
	presenceHandler := handler.NewPresenceHandler(cfg.Coordinator, cfg.Logger)

	// Health endpoints (no auth)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group(cfg.BasePath)
	{
		api.GET("/health", healthHandler.Health)
		api.GET("/ready", healthHandler.Ready)

		// Identity arrives over the socket with the authenticate event.
		api.GET("/ws", wsHandler.HandleWebSocket)

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(cfg.Validator))
		{
			authenticated.GET("/presence/doctors/:doctorId", presenceHandler.GetDoctorStatus)
			authenticated.GET("/rooms/:room/members", presenceHandler.GetRoomMembers)
			authenticated.GET("/stats", presenceHandler.GetStats)
		}
	}

	return r
}
