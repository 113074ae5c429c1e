package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"humanoid/internal/ai"
	"humanoid/internal/ai/component"
	"humanoid/internal/config"
	"humanoid/internal/handler"
	authHandler "humanoid/internal/handler/auth"
	"humanoid/internal/pkg/cache"
	"humanoid/internal/pkg/jwt"
	"humanoid/internal/pkg/mongodb"
	"humanoid/internal/pkg/storage"
	"humanoid/internal/pkg/storagefactory"
	"humanoid/internal/pool"
	"humanoid/internal/repository"
	authRepo "humanoid/internal/repository/auth"
	bizRepo "humanoid/internal/repository/business"
	credRepo "humanoid/internal/repository/credential"
	semRepo "humanoid/internal/repository/semantic"
	"humanoid/internal/semantic"
	"humanoid/internal/server/middleware"
	"humanoid/internal/service"
)

// Server HTTP 服务器
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	mongo  *mongodb.Client
	redis  *cache.RedisCache
	pool   *pool.Pool
}

// New 创建服务器实例并完成全部装配
// MongoDB 是必须的（池状态、对话、商家都在库里）；Redis、对象存储、
// 向量模型缺失时对应能力降级
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

	// 创建 Gin 引擎
	engine := gin.New()

	// 初始化 MongoDB（必须）
	if cfg.Mongo.URI == "" {
		return nil, errors.New("mongo.uri is required")
	}
	mongoClient, err := mongodb.New(&cfg.Mongo)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

	db := mongoClient.Database()
	if err := mongodb.EnsureIndexes(db); err != nil {
		log.Warn().Err(err).Msg("failed to ensure indexes")
	}

	// 初始化 Redis (可选)
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without it")
		} else {
			redisCache = rc
			log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		}
	}

	ctx := context.Background()

	// 初始化对象存储 (可选)
	var objectStore storage.Storage
	if cfg.Storage.Type != "" {
		store, err := storagefactory.NewStorage(ctx, &cfg.Storage)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize object storage, uploads disabled")
		} else {
			objectStore = store
			log.Info().Str("type", cfg.Storage.Type).Msg("object storage initialized")
		}
	}

	// 仓库
	userRepo := authRepo.NewUserRepo(db)
	refreshTokenRepo := authRepo.NewRefreshTokenRepo(db)
	convRepo := repository.NewConversationRepo(db)
	tokenRepo := credRepo.NewTokenRepo(db)
	assignmentRepo := credRepo.NewAssignmentRepo(db)
	businessRepo := bizRepo.NewBusinessRepo(db)
	productRepo := bizRepo.NewProductRepo(db)

	// 凭证池：从库恢复状态
	credPool := pool.New(assignmentRepo, cfg.Pool.DefaultCapacity)
	tokens, err := tokenRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load provider tokens: %w", err)
	}
	assignments, err := assignmentRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active assignments: %w", err)
	}
	credPool.Load(tokens, assignments)

	// 语义索引 (可选：需要向量模型)
	var index *semantic.Index
	if cfg.Embedding.APIKey != "" {
		embedder, err := component.NewEmbedder(ctx, &cfg.Embedding)
		if err != nil {
			log.Warn().Err(err).Msg("failed to create embedder, semantic retrieval disabled")
		} else {
			index = semantic.NewIndex(embedder, semRepo.NewVectorRepo(db), cfg.Retrieval.MinScore)
			if err := index.Load(ctx); err != nil {
				return nil, fmt.Errorf("load semantic index: %w", err)
			}
		}
	} else {
		log.Warn().Msg("embedding api key not configured, semantic retrieval disabled")
	}

	// AI 客户端
	aiClient := ai.NewClient(&cfg.AI)

	// 服务
	var retriever service.Retriever
	var indexer service.VectorIndexer
	if index != nil {
		retriever = index
		indexer = index
	}

	chatSvc := service.NewChatService(credPool, aiClient, convRepo, retriever, productRepo, cfg)
	convSvc := service.NewConversationService(convRepo, redisCache)
	tokenSvc := service.NewTokenService(tokenRepo, credPool, aiClient, cfg.Pool.DefaultCapacity)
	bizSvc := service.NewBusinessService(businessRepo, productRepo, indexer, retriever, objectStore)

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "default-secret-key-change-in-production"
		log.Warn().Msg("JWT secret not configured, using default (NOT SECURE for production)")
	}
	accessTokenExpiry := cfg.Auth.AccessTokenExpiry
	if accessTokenExpiry == 0 {
		accessTokenExpiry = 24 * time.Hour
	}
	refreshTokenExpiry := cfg.Auth.RefreshTokenExpiry
	if refreshTokenExpiry == 0 {
		refreshTokenExpiry = 7 * 24 * time.Hour
	}

	authSvc := service.NewAuthService(
		userRepo,
		refreshTokenRepo,
		jwtSecret,
		accessTokenExpiry,
		refreshTokenExpiry,
		chatSvc,
	)

	srv := &Server{
		cfg:    cfg,
		engine: engine,
		mongo:  mongoClient,
		redis:  redisCache,
		pool:   credPool,
	}

	srv.setupRoutes(
		jwt.NewJWT(jwtSecret, accessTokenExpiry),
		authHandler.NewHandler(authSvc),
		handler.NewChatHandler(chatSvc, convSvc),
		handler.NewConversationHandler(convSvc),
		handler.NewTokenHandler(tokenSvc),
		handler.NewBusinessHandler(bizSvc),
	)

	return srv, nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(
	jwtUtil *jwt.JWT,
	authHdl *authHandler.Handler,
	chatHdl *handler.ChatHandler,
	convHdl *handler.ConversationHandler,
	tokenHdl *handler.TokenHandler,
	bizHdl *handler.BusinessHandler,
) {
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

	// API v1
	v1 := s.engine.Group("/api/v1")
	{
		// 认证接口（公开）
		v1.POST("/auth/register", authHdl.Register)
		v1.POST("/auth/login", authHdl.Login)
		v1.POST("/auth/refresh", authHdl.Refresh)
		v1.POST("/auth/logout", authHdl.Logout)

		// 需要登录的接口
		authed := v1.Group("")
		authed.Use(middleware.Auth(jwtUtil))
		{
			authed.GET("/auth/me", authHdl.GetMe)

			// 对话
			authed.POST("/chat", chatHdl.SendMessage)
			authed.POST("/chat/session/release", chatHdl.ReleaseSession)
			authed.GET("/conversations", convHdl.List)
			authed.GET("/conversations/:id", convHdl.Get)
			authed.DELETE("/conversations/:id", convHdl.Delete)

			// 商家与商品
			authed.POST("/business", bizHdl.CreateBusiness)
			authed.GET("/business", bizHdl.GetBusiness)
			authed.PUT("/business", bizHdl.UpdateBusiness)
			authed.DELETE("/business", bizHdl.DeleteBusiness)
			authed.POST("/business/logo", bizHdl.UploadLogo)
			authed.GET("/business/logo", bizHdl.GetLogo)
			authed.POST("/business/search", bizHdl.SearchBusinesses)
			authed.POST("/business/products/search", bizHdl.SearchProducts)
			authed.GET("/business/products/stats", bizHdl.GetProductStats)
			authed.POST("/business/products", bizHdl.CreateProduct)
			authed.GET("/business/products", bizHdl.ListProducts)
			authed.PUT("/business/products/:id", bizHdl.UpdateProduct)
			authed.DELETE("/business/products/:id", bizHdl.DeleteProduct)
			authed.POST("/business/products/:id/images", bizHdl.UploadProductImage)
			authed.GET("/business/products/:id/images", bizHdl.GetProductImages)
		}

		// 凭证管理（管理员）
		admin := v1.Group("/admin")
		admin.Use(middleware.Auth(jwtUtil), middleware.RequireAdmin())
		{
			admin.POST("/tokens", tokenHdl.Create)
			admin.GET("/tokens", tokenHdl.List)
			admin.GET("/tokens/stats", tokenHdl.Stats)
			admin.PUT("/tokens/:id/active", tokenHdl.SetActive)
			admin.DELETE("/tokens/:id", tokenHdl.Delete)
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

	// 后台回收空闲的凭证分配
	sweepInterval := s.cfg.Pool.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	assignmentTTL := s.cfg.Pool.AssignmentTTL
	if assignmentTTL <= 0 {
		assignmentTTL = 30 * time.Minute
	}
	s.pool.StartSweeper(ctx, sweepInterval, assignmentTTL)

	// 启动服务器
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待关闭信号或错误
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")

		// 关闭连接
		if s.mongo != nil {
			if err := s.mongo.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to close MongoDB connection")
			}
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
