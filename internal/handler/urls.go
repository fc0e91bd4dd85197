package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/tripzi-app/calling/internal/models"
	"github.com/tripzi-app/calling/pkg/call"
	"github.com/tripzi-app/calling/pkg/cache"
	"github.com/tripzi-app/calling/pkg/config"
	"github.com/tripzi-app/calling/pkg/constants"
	"github.com/tripzi-app/calling/pkg/logger"
	"github.com/tripzi-app/calling/pkg/metrics"
	"github.com/tripzi-app/calling/pkg/middleware"
	"github.com/tripzi-app/calling/pkg/signaling"
	"gorm.io/gorm"
)

// Handlers carries the service dependencies each route needs
type Handlers struct {
	db       *gorm.DB
	channel  *signaling.Channel
	resolver call.ProfileResolver
	metrics  *metrics.Metrics
}

func NewHandlers(db *gorm.DB, channel *signaling.Channel) *Handlers {
	resolver := call.NewCachedResolver(
		call.NewUserResolver(db),
		cache.GetGlobalCache(),
		constants.ProfileCacheExpiration,
	)

	return &Handlers{
		db:       db,
		channel:  channel,
		resolver: resolver,
		metrics:  metrics.NewMetrics(),
	}
}

func (h *Handlers) Register(engine *gin.Engine) {
	r := engine.Group(config.GlobalConfig.APIPrefix)

	r.Use(middleware.InjectDB(h.db))
	r.Use(middleware.LoggerMiddleware(logger.GetLogger()))
	r.Use(middleware.MetricsMiddleware(h.metrics))

	h.registerCallRoutes(r)
	h.registerProfileRoutes(r)

	if config.GlobalConfig.MonitorPrefix != "" {
		engine.GET(config.GlobalConfig.MonitorPrefix, h.metrics.Handler())
	}
}

func (h *Handlers) registerCallRoutes(r *gin.RouterGroup) {
	calls := r.Group("/calls")
	calls.GET("/subscribe", h.handleSubscribe)

	calls.Use(h.authRequired())
	calls.POST("", h.handleCreateCall)
	calls.GET("", h.handleCallHistory)
	calls.GET("/ice-servers", h.handleICEServers)
	calls.GET("/:id", h.handleGetCall)
	calls.POST("/:id", h.handleUpdateCall)
	calls.POST("/:id/answer", h.handleAnswerCall)
	calls.POST("/:id/decline", h.handleDeclineCall)
	calls.POST("/:id/end", h.handleEndCall)
	calls.POST("/:id/candidates", h.handleAddCandidate)
	calls.GET("/:id/candidates", h.handleListCandidates)
}

func (h *Handlers) registerProfileRoutes(r *gin.RouterGroup) {
	profiles := r.Group("/profiles", h.authRequired())
	profiles.GET("/:id", h.handleGetProfile)
}

func currentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(constants.UserField); ok {
		if user, ok := v.(*models.User); ok {
			return user
		}
	}
	return nil
}
