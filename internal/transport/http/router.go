package httptransport

import (
	"net/http"
	"os"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailalias/backend/internal/config"
	"mailalias/backend/internal/health"
	"mailalias/backend/internal/middleware"
	"mailalias/backend/internal/monitoring"
	"mailalias/backend/internal/service"
	"mailalias/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config       *config.Config
	AliasService *service.AliasService
	WebSocketHub *websocket.Hub
	Health       *health.HealthChecker // 可选
	Metrics      *monitoring.Metrics   // 可选
	Logger       *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	if deps.Metrics != nil {
		mm := middleware.NewMonitoringMiddleware(deps.Metrics, log)
		router.Use(mm.PanicRecovery(), mm.HTTPMetrics())
	} else {
		router.Use(gin.Recovery())
	}
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := NewHandler(deps.AliasService)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		v1.GET("/aliases", handler.ListAliases)
		v1.GET("/maps", handler.PreviewMaps)
		v1.POST("/reload", handler.Reload)
	}

	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	staticDir := deps.Config.Server.StaticDir
	if info, err := os.Stat(staticDir); staticDir != "" && err == nil && info.IsDir() {
		fileServer := http.FileServer(http.Dir(staticDir))
		router.NoRoute(func(c *gin.Context) {
			if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
				Error(c, http.StatusNotFound, "not found")
				return
			}
			fileServer.ServeHTTP(c.Writer, c.Request)
		})
		log.Info("serving static files", zap.String("dir", staticDir))
	} else {
		router.NoRoute(func(c *gin.Context) {
			Error(c, http.StatusNotFound, "not found")
		})
	}

	return router
}
