package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"anoa.com/fellowship/internal/config"
	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/middleware"
	"anoa.com/fellowship/pkg/apperror"
	"anoa.com/fellowship/pkg/logger"
	"anoa.com/fellowship/pkg/ratelimiter"
	"anoa.com/fellowship/pkg/response"

	engagementHttp "anoa.com/fellowship/internal/modules/engagement/delivery/http"
	engagementRepo "anoa.com/fellowship/internal/modules/engagement/repository"
	engagementService "anoa.com/fellowship/internal/modules/engagement/service"

	friendHttp "anoa.com/fellowship/internal/modules/friendship/delivery/http"
	friendRepo "anoa.com/fellowship/internal/modules/friendship/repository"
	friendService "anoa.com/fellowship/internal/modules/friendship/service"

	notiHttp "anoa.com/fellowship/internal/modules/notification/delivery/http"
	notifRepo "anoa.com/fellowship/internal/modules/notification/repository"
	notifService "anoa.com/fellowship/internal/modules/notification/service"

	profileHttp "anoa.com/fellowship/internal/modules/profile/delivery/http"
	profileRepo "anoa.com/fellowship/internal/modules/profile/repository"
	profileService "anoa.com/fellowship/internal/modules/profile/service"

	searchHttp "anoa.com/fellowship/internal/modules/search/delivery/http"
	searchService "anoa.com/fellowship/internal/modules/search/service"

	subscriptionHttp "anoa.com/fellowship/internal/modules/subscription/delivery/http"
	subscriptionService "anoa.com/fellowship/internal/modules/subscription/service"

	threadHttp "anoa.com/fellowship/internal/modules/thread/delivery/http"
	threadRepo "anoa.com/fellowship/internal/modules/thread/repository"
	threadService "anoa.com/fellowship/internal/modules/thread/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/meilisearch/meilisearch-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	engine *gin.Engine
	http   *http.Server
	hub    *subscriptionService.Hub
	log    *zap.Logger
}

// NewServer wires every module onto store. redisClient and a configured
// search host are optional; without them push delivery and search are off.
func NewServer(cfg *config.Config, store docstore.Store, redisClient *redis.Client) *Server {
	log := logger.Named("server")

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
	}

	// Profile Module
	profileRepository := profileRepo.NewProfileRepository(store)
	profileSvc := profileService.NewProfileService(profileRepository)
	profileHandler := profileHttp.NewProfileHandler(profileSvc)

	// Notification Module
	var deliverer notifService.Deliverer
	var listener notiHttp.Listener
	if redisClient != nil {
		redisDeliverer := notifService.NewRedisDeliverer(redisClient)
		deliverer, listener = redisDeliverer, redisDeliverer
	}
	notificationSvc := notifService.NewNotificationService(notifRepo.NewNotificationRepository(store), deliverer, logger.Named("notification"))
	notificationHandler := notiHttp.NewNotificationHandler(notificationSvc, listener, upgrader, logger.Named("notification"))

	// Friendship Module
	friendSvc := friendService.NewFriendshipService(friendRepo.NewFriendshipRepository(store), notificationSvc, profileSvc, cfg.ConflictRetries, logger.Named("friendship"))
	friendHandler := friendHttp.NewFriendshipHandler(friendSvc)

	// Search Module
	var indexer engagementService.Indexer
	var searchHandler *searchHttp.SearchHandler
	if cfg.MeiliSearchHost != "" {
		meiliHost := cfg.MeiliSearchHost
		if !strings.HasPrefix(meiliHost, "http") {
			meiliHost = "http://" + meiliHost + ":7700"
		}
		meiliClient := meilisearch.New(meiliHost, meilisearch.WithAPIKey(cfg.MeiliMasterKey))
		meiliSvc := searchService.NewMeiliSearchService(meiliClient, logger.Named("search"))
		indexer = meiliSvc
		searchHandler = searchHttp.NewSearchHandler(meiliSvc)
	}

	// Thread + Engagement Modules
	threadSvc := threadService.NewService(threadRepo.NewRepository(store), logger.Named("thread"))
	threadHandler := threadHttp.NewThreadHandler(threadSvc)

	engagementSvc := engagementService.NewEngagementService(engagementRepo.NewDiscussionRepository(store), profileSvc, indexer, cfg.ConflictRetries, logger.Named("engagement"))
	engagementHandler := engagementHttp.NewEngagementHandler(engagementSvc)

	// Subscription Module
	hub := subscriptionService.NewHub(store, profileSvc, cfg.ResubscribeMaxInterval, logger.Named("subscription"))
	subscriptionHandler := subscriptionHttp.NewSubscriptionHandler(hub, upgrader, logger.Named("subscription"))

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	setupCORS(router, cfg.AllowedOrigins)

	router.Use(logger.Recovery())
	router.Use(logger.RequestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	limiter := ratelimiter.New(redisClient)

	api := router.Group("/api")
	protected := api.Group("")
	protected.Use(authMiddleware.RequireAuth())
	{
		// Friendship routes
		protected.POST("/friends/requests", ratelimiter.Cooldown(limiter, "friend_request", cfg.CommandCooldown), friendHandler.SendRequest)
		protected.POST("/friends/:user_id/accept", friendHandler.Accept)
		protected.POST("/friends/:user_id/decline", friendHandler.Decline)
		protected.DELETE("/friends/:user_id", friendHandler.Remove)
		protected.GET("/friends", friendHandler.ListAccepted)
		protected.GET("/friends/pending", friendHandler.ListPending)
		protected.GET("/friends/ws", subscriptionHandler.StreamFriends)

		// Notification routes
		protected.GET("/notifications", notificationHandler.GetNotifications)
		protected.GET("/notifications/unread-count", notificationHandler.UnreadCount)
		protected.PUT("/notifications/:id/read", notificationHandler.MarkAsRead)
		protected.PUT("/notifications/read-all", notificationHandler.MarkAllAsRead)
		protected.GET("/notifications/ws", notificationHandler.HandleWebSocket)

		// Discussion routes
		protected.POST("/discussions", ratelimiter.Cooldown(limiter, "discussion", cfg.CommandCooldown), engagementHandler.CreateDiscussion)
		protected.GET("/discussions", engagementHandler.ListDiscussions)
		if searchHandler != nil {
			protected.GET("/discussions/search", searchHandler.SearchDiscussions)
		} else {
			protected.GET("/discussions/search", searchDisabled)
		}
		protected.GET("/discussions/:discussion_id", engagementHandler.GetDiscussion)
		protected.DELETE("/discussions/:discussion_id", engagementHandler.DeleteDiscussion)
		protected.POST("/discussions/:discussion_id/like", engagementHandler.ToggleLike)
		protected.GET("/discussions/:discussion_id/comments", threadHandler.GetThread)
		protected.POST("/discussions/:discussion_id/comments", engagementHandler.AddComment)
		protected.DELETE("/discussions/:discussion_id/comments/:comment_id", engagementHandler.DeleteComment)
		protected.GET("/discussions/:discussion_id/ws", subscriptionHandler.StreamThread)

		// Profile routes
		protected.GET("/profile/me", profileHandler.GetCurrentProfile)
		protected.PUT("/profile", profileHandler.UpdateProfile)
	}

	return &Server{
		engine: router,
		hub:    hub,
		log:    log,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until Shutdown is called.
func (s *Server) Run(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("http server listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends live subscriptions, then drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func searchDisabled(c *gin.Context) {
	response.ResponseError(c, apperror.New(http.StatusServiceUnavailable, "search is not configured", apperror.ErrTransport))
}

func setupCORS(router *gin.Engine, origins []string) {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == origin || o == "*" {
				return true
			}
		}
		return false
	}
}
