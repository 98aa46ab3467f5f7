// Package server exposes the coordinator over HTTP and fans its broadcasts out to
// websocket subscribers.
package server

import (
	"net/http"
	"slices"
	"time"

	"insider/internal/config"
	"insider/internal/coordinator"
	"insider/internal/store"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	coord   *coordinator.Coordinator
	hub     *Hub
	timers  *deadlineTimers
	limiter *rateLimiter
	cfg     config.Config
	logger  *zap.Logger
	now     func() time.Time
}

type settings struct {
	now       func() time.Time
	coordOpts []coordinator.Option
}

type Option func(*settings)

// WithClock drives both the coordinator and the deadline timers from now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
		s.coordOpts = append(s.coordOpts, coordinator.WithClock(now))
	}
}

func WithCoordinatorOptions(opts ...coordinator.Option) Option {
	return func(s *settings) { s.coordOpts = append(s.coordOpts, opts...) }
}

func New(st store.Store, cfg config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	set := settings{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&set)
	}
	s := &Server{
		hub:     NewHub(logger),
		limiter: newRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		cfg:     cfg,
		logger:  logger,
		now:     set.now,
	}
	s.coord = coordinator.New(st, s, coordinator.Config{
		TopicDuration:    cfg.TopicDuration(),
		QuestionDuration: cfg.QuestionDuration(),
		PresenceTimeout:  cfg.PresenceTimeout(),
		TopicOptions:     cfg.TopicOptions,
		MaxPlayers:       cfg.MaxPlayers,
	}, logger.Named("coordinator"), set.coordOpts...)
	s.timers = newDeadlineTimers(s.checkDeadline, s.now, logger.Named("timers"))
	return s
}

func (s *Server) Coordinator() *coordinator.Coordinator {
	return s.coord
}

// Close stops pending deadline timers and drops every websocket subscriber.
func (s *Server) Close() {
	s.timers.Stop()
	s.hub.Close()
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "Origin"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func (s *Server) Handler() http.Handler {
	registerValidators()
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(requestLogger(s.logger.Named("http")), recovery(s.logger))
	r.Use(cors.New(corsConfig(s.cfg.AllowedOrigins)))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "server_now": s.now().UnixMilli()})
	})
	r.GET("/ws/rooms/:roomID", s.handleWebsocket)

	api := r.Group("/api", s.limiter.middleware())
	rooms := api.Group("/rooms")
	rooms.POST("", s.handleCreateRoom)
	rooms.GET("/:roomID", s.handleRoomSnapshot)
	rooms.POST("/:roomID/players", s.handleJoinRoom)
	rooms.DELETE("/:roomID/players/:playerID", s.handleLeaveRoom)
	rooms.POST("/:roomID/players/:playerID/heartbeat", s.handleHeartbeat)
	rooms.POST("/:roomID/suspend", s.handleSuspend)
	rooms.POST("/:roomID/sessions", s.handleStartSession)

	sessions := api.Group("/sessions/:sessionID")
	sessions.GET("", s.handleSessionSnapshot)
	sessions.POST("/roles/confirm", s.handleConfirmRole)
	sessions.POST("/topic", s.handleSelectTopic)
	sessions.POST("/answer", s.handleReportAnswer)
	sessions.POST("/votes", s.handleSubmitVote)
	sessions.POST("/tally", s.handleTally)
	sessions.POST("/transition", s.handleTransition)
	sessions.POST("/deadline", s.handleCheckDeadline)

	r.NoRoute(func(c *gin.Context) {
		writeError(c, &coordinator.Error{Code: coordinator.CodeNotFound, Message: "route not found"})
	})
	return r
}
