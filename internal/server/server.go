package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"mango/internal/ai"
	"mango/internal/ai/component"
	"mango/internal/config"
	"mango/internal/handler"
	agentHandler "mango/internal/handler/agent"
	"mango/internal/pkg/ark"
	"mango/internal/pkg/cache"
	"mango/internal/pkg/jwt"
	"mango/internal/pkg/mongodb"
	"mango/internal/pkg/seedance"
	"mango/internal/pkg/storagefactory"
	"mango/internal/pkg/suno"
	"mango/internal/server/middleware"
	agentservice "mango/internal/service/agent"
)

// Server HTTP 服务器
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	mongo  *mongodb.Client
	redis  *cache.RedisCache

	agentSvc agentservice.Service
}

// New 创建服务器实例
func New(cfg *config.Config) (*Server, error) {
	// 设置 Gin 模式
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// 初始化 MongoDB（必需，全部业务数据都在这里）
	mongoClient, err := mongodb.New(&cfg.Mongo)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

	if err := mongodb.EnsureIndexes(mongoClient.Database()); err != nil {
		log.Warn().Err(err).Msg("failed to ensure indexes")
	}

	// 初始化 Redis（可选，触发锁退化为仅依赖数据库唯一索引）
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without dispatch locks")
		} else {
			redisCache = rc
			log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		}
	}

	// 对象存储（分镜图与成品视频的落地点）
	store, err := storagefactory.NewStorage(context.Background(), &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.Info().Str("type", cfg.Storage.Type).Msg("initialized storage")

	deps := &agentservice.Deps{
		DB:       mongoClient.Database(),
		Storage:  store,
		Generate: &cfg.Generate,
	}
	if redisCache != nil {
		deps.Locker = redisCache
	}

	// 脚本分析 LLM
	if cfg.AI.APIKey != "" {
		chatModel, err := component.NewChatModel(context.Background(), &cfg.AI)
		if err != nil {
			return nil, fmt.Errorf("init chat model: %w", err)
		}
		deps.Analyzer = ai.NewScriptAnalyzer(chatModel)
		log.Info().Str("model", cfg.AI.Model).Msg("initialized script analyzer")
	} else {
		log.Warn().Msg("AI api_key not configured, script analysis disabled")
	}

	// 分镜图生成后端
	if cfg.Backends.Image.APIKey != "" {
		imageClient, err := ark.NewImageClient(&ark.ImageConfig{
			APIKey:  cfg.Backends.Image.APIKey,
			BaseURL: cfg.Backends.Image.BaseURL,
			Model:   cfg.Backends.Image.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("init image backend: %w", err)
		}
		deps.ImageBackend = imageClient
	} else {
		log.Warn().Msg("image backend not configured, storyboard generation disabled")
	}

	// 视频片段生成后端
	if cfg.Backends.Video.APIKey != "" {
		videoClient, err := seedance.NewClient(&seedance.Config{
			APIKey:  cfg.Backends.Video.APIKey,
			BaseURL: cfg.Backends.Video.BaseURL,
			Model:   cfg.Backends.Video.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("init video backend: %w", err)
		}
		deps.VideoBackend = videoClient
	} else {
		log.Warn().Msg("video backend not configured, clip generation disabled")
	}

	// 背景音乐后端（可选，未配置时合成阶段跳过混音）
	if cfg.Backends.Music.APIKey != "" {
		musicClient, err := suno.NewClient(&suno.Config{
			APIKey:  cfg.Backends.Music.APIKey,
			BaseURL: cfg.Backends.Music.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init music backend: %w", err)
		}
		deps.MusicBackend = musicClient
	}

	srv := &Server{
		cfg:      cfg,
		engine:   engine,
		mongo:    mongoClient,
		redis:    redisCache,
		agentSvc: agentservice.NewService(deps),
	}

	srv.setupRoutes()

	return srv, nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// 全局中间件
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger())
	s.engine.Use(middleware.CORS())

	// 健康检查
	healthHandler := handler.NewHealthHandler()
	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/ready", healthHandler.Ready)

	// Swagger 文档
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	jwtUtil := jwt.NewJWT(s.cfg.Auth.JWTSecret, s.cfg.Auth.AccessTokenExpiry)
	agentHdl := agentHandler.NewHandler(s.agentSvc)

	// API v1（全部接口要求认证）
	v1 := s.engine.Group("/api/v1")
	v1.Use(middleware.Auth(jwtUtil))
	{
		projects := v1.Group("/agent/projects")
		{
			projects.POST("", agentHdl.CreateProject)
			projects.GET("", agentHdl.ListProjects)
			projects.GET("/:id", agentHdl.GetProject)
			projects.DELETE("/:id", agentHdl.DeleteProject)

			// 阶段1：脚本分析与分镜编辑
			projects.POST("/:id/analyze", agentHdl.AnalyzeScript)
			projects.DELETE("/:id/shots/:shot_number", agentHdl.DeleteShot)
			projects.PATCH("/:id/shots/:shot_number", agentHdl.UpdateShot)

			// 阶段2：角色配置
			projects.PUT("/:id/characters", agentHdl.ConfigureCharacters)
			projects.GET("/:id/characters", agentHdl.GetCharacters)

			// 阶段3：分镜图
			projects.POST("/:id/storyboards/generate", agentHdl.GenerateStoryboards)
			projects.POST("/:id/storyboards/:shot_number/regenerate", agentHdl.RegenerateStoryboard)
			projects.GET("/:id/storyboards/status", agentHdl.StoryboardStatus)

			// 阶段4：视频片段
			projects.POST("/:id/videos/generate", agentHdl.GenerateVideos)
			projects.POST("/:id/videos/:shot_number/retry", agentHdl.RetryVideo)
			projects.GET("/:id/videos/status", agentHdl.VideoStatus)

			// 阶段5：最终合成
			projects.POST("/:id/compose", agentHdl.Compose)
			projects.GET("/:id/compose/status", agentHdl.ComposeStatus)
		}
	}
}

// Run 启动服务器
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")

		if err := s.mongo.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to close MongoDB connection")
		}
		if s.redis != nil {
			if err := s.redis.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close Redis connection")
			}
		}

		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Engine 获取 Gin 引擎 (用于测试)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
