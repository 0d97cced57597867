package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"taskmanager/internal/api/auth"
	"taskmanager/internal/api/middleware"
	"taskmanager/internal/config"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/cache"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/pkg/password"
	"taskmanager/internal/pkg/ratelimit"
	"taskmanager/internal/pkg/token"
	"taskmanager/internal/store"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端以及 Gin 路由引擎。所有依赖在启动时显式注入。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	rdb       *redis.Client
	router    *gin.Engine
	auth      *auth.Handler
	users     UserStore
	taskStore TaskStore
	cache     Cache
	tokens    *token.Service
	hasher    *password.Hasher
	limiter   middleware.Limiter
	dbPing    Pinger
	cachePing Pinger
}

// UserStore 是凭证存储。
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id uint) (*model.User, error)
}

// TaskStore 是按所有者隔离的任务仓库。
type TaskStore interface {
	ListTasks(ctx context.Context, ownerID uint) ([]model.Task, error)
	ListAllTasks(ctx context.Context) ([]model.Task, error)
	CreateTask(ctx context.Context, task *model.Task) error
	UpdateTask(ctx context.Context, id, ownerID uint, patch model.TaskPatch) (*model.Task, error)
	DeleteTask(ctx context.Context, id, ownerID uint) error
}

// Cache 是带 TTL 的键值缓存，值以 JSON 存储。
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Pinger 用于健康检查。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps 是构建 Server 所需的全部依赖。
type Deps struct {
	Users     UserStore
	Tasks     TaskStore
	Cache     Cache
	Tokens    *token.Service
	Hasher    *password.Hasher
	Limiter   middleware.Limiter
	DBPing    Pinger
	CachePing Pinger
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接数据库并执行自动迁移
// 2. 连接 Redis
// 3. 构建 Token Service、密码哈希与登录限流
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	tokens, err := token.NewService(cfg.Security.JWTSecret, cfg.Security.JWTAlgorithm, cfg.Security.AccessTokenExpireMinutes)
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// 缓存不可用时仍然启动，读路径会回退到数据库
		logger.Warn("redis ping failed, continuing with degraded cache", slog.String("error", err.Error()))
	}

	users := store.NewUserStore(db)
	taskCache := cache.New(rdb, cfg.Redis.CacheTTL)

	s := newServer(cfg, logger, Deps{
		Users:     users,
		Tasks:     store.NewTaskStore(db),
		Cache:     taskCache,
		Tokens:    tokens,
		Hasher:    password.NewHasher(cfg.Security.BcryptCost),
		Limiter:   ratelimit.NewRedisRateLimiter(rdb, "", cfg.Security.LoginRateLimit, cfg.Security.LoginRateBurst),
		DBPing:    users,
		CachePing: taskCache,
	})
	s.db = db
	s.rdb = rdb
	return s, nil
}

func newServer(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(logger))
	if len(cfg.App.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.App.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposeHeaders:    []string{cacheStatusHeader, middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    r,
		auth:      auth.NewHandler(deps.Users, deps.Hasher, deps.Tokens, logger),
		users:     deps.Users,
		taskStore: deps.Tasks,
		cache:     deps.Cache,
		tokens:    deps.Tokens,
		hasher:    deps.Hasher,
		limiter:   deps.Limiter,
		dbPing:    deps.DBPing,
		cachePing: deps.CachePing,
	}
	s.registerRoutes()
	return s
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/healthz", s.handleHealthz)

	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")

	authRoutes := v1.Group("/auth")
	authRoutes.POST("/register", s.auth.Register)
	authRoutes.POST("/login", middleware.RateLimitByIP(s.limiter, "login", s.logger), s.auth.Login)

	tasks := v1.Group("/tasks")
	tasks.Use(middleware.Authenticate(s.tokens, s.users, s.logger))
	tasks.GET("", s.handleListTasks)
	tasks.POST("", s.handleCreateTask)
	tasks.GET("/all", middleware.RequireRole(model.RoleAdmin), s.handleListAllTasks)
	tasks.PUT("/:id", s.handleUpdateTask)
	tasks.DELETE("/:id", s.handleDeleteTask)
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Task Manager API v1 is running"})
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.dbPing == nil || s.cachePing == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	if err := s.dbPing.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "database": err.Error()})
		return
	}
	// 缓存不可用不影响正确性，只标记为 degraded
	if err := s.cachePing.Ping(ctx); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "degraded", "cache": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
