package app

import (
	"context"
	"edurefund_backend/internal/config"
	"edurefund_backend/internal/controller"
	"edurefund_backend/internal/event"
	"edurefund_backend/internal/repository"
	"edurefund_backend/internal/service"
	"edurefund_backend/internal/util"
	"edurefund_backend/pkg/configwatcher"
	"edurefund_backend/pkg/database"
	"edurefund_backend/pkg/logger"
	"edurefund_backend/pkg/monitoring"
	"edurefund_backend/pkg/security"
	"edurefund_backend/pkg/tracing"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config    *config.Config
	Router    *gin.Engine
	DB        *gorm.DB
	Redis     *redis.Client
	Publisher event.Publisher
	services  *services
	tracer    *sdktrace.TracerProvider
	ctx       context.Context
	cancel    context.CancelFunc
}

type repositories struct {
	user       *repository.UserRepository
	profile    *repository.ProfileRepository
	enrollment *repository.EnrollmentRepository
}

type services struct {
	auth       *service.AuthService
	profile    *service.ProfileService
	catalog    *service.CatalogService
	enrollment *service.EnrollmentService
	notifyHub  *service.NotifyHub
}

type controllers struct {
	auth       *controller.AuthController
	course     *controller.CourseController
	enrollment *controller.EnrollmentController
	profile    *controller.ProfileController
	notify     *controller.NotifyController
	health     *controller.HealthController
}

// newMedium 按 store.backend 选择报名集合的存储介质
func newMedium(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (repository.Medium, error) {
	switch cfg.Store.Backend {
	case util.StoreRedis:
		if rdb == nil {
			return nil, errors.New("store backend redis requires a redis connection")
		}
		return repository.NewRedisMedium(rdb), nil
	case util.StoreDatabase:
		if db == nil {
			return nil, errors.New("store backend database requires a database connection")
		}
		return repository.NewGormMedium(db), nil
	case util.StoreMemory, "":
		return repository.NewMemoryMedium(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// newBroker 有 Redis 时使用 Redis 发布订阅，多实例之间也能通知
func newBroker(rdb *redis.Client) repository.Broker {
	if rdb != nil {
		return repository.NewRedisBroker(rdb)
	}
	return repository.NewMemoryBroker()
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client) (*repositories, error) {
	medium, err := newMedium(a.Config, db, rdb)
	if err != nil {
		return nil, err
	}

	repos := &repositories{
		enrollment: repository.NewEnrollmentRepository(medium, newBroker(rdb), a.Config.Store),
	}
	if db != nil {
		repos.user = repository.NewUserRepository(db)
		repos.profile = repository.NewProfileRepository(db)
	}
	return repos, nil
}

func (a *App) initServices(repos *repositories, catalog *service.Catalog) *services {
	cfg := a.Config
	s := &services{}

	s.catalog = service.NewCatalogService(catalog)
	s.enrollment = service.NewEnrollmentService(repos.enrollment, s.catalog, a.Publisher, cfg.Assessment)

	if repos.user != nil {
		s.auth = service.NewAuthService(repos.user, cfg)
		s.profile = service.NewProfileService(repos.profile, repos.user, s.enrollment)
	}

	s.notifyHub = service.NewNotifyHub(repos.enrollment)
	go s.notifyHub.Run()

	return s
}

func (a *App) initControllers(s *services, repos *repositories) *controllers {
	c := &controllers{
		course:     controller.NewCourseController(s.catalog),
		enrollment: controller.NewEnrollmentController(s.enrollment),
		notify:     controller.NewNotifyController(s.notifyHub),
		health:     controller.NewHealthController(a.DB, a.Redis, repos.enrollment),
	}
	if s.auth != nil {
		c.auth = controller.NewAuthController(s.auth)
		c.profile = controller.NewProfileController(s.profile)
	}
	return c
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(a.ctx, cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute, security.ByClientIP))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// New 基于已建立的基础设施组装应用，db 和 rdb 均可为空
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, publisher event.Publisher) (*App, error) {
	catalog, err := service.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	if publisher == nil {
		publisher = event.NewMockPublisher()
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		DB:        db,
		Redis:     rdb,
		Publisher: publisher,
		ctx:       ctx,
		cancel:    cancel,
	}

	repos, err := app.initRepositories(db, rdb)
	if err != nil {
		cancel()
		return nil, err
	}
	app.services = app.initServices(repos, catalog)
	controllers := app.initControllers(app.services, repos)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	if cfg.Catalog.Watch {
		if err := configwatcher.WatchFile(ctx, cfg.Catalog.Path, app.services.catalog.Reload); err != nil {
			logger.Log.Warn("Catalog hot reload disabled", zap.String("path", cfg.Catalog.Path), zap.Error(err))
		}
	}

	return app, nil
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	var db *gorm.DB
	if cfg.Database.Enabled {
		var err error
		db, err = database.InitDB(&cfg.Database, cfg.Server.Mode)
		if err != nil {
			logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		}
	} else {
		logger.Log.Warn("Database disabled: register, login and profile routes are not served")
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		var err error
		rdb, err = database.InitRedis(context.Background(), &cfg.Redis)
		if err != nil {
			logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		}
	}

	publisher, err := event.NewRabbitPublisher(cfg.Events.RabbitURI, cfg.Events.Exchange)
	if err != nil {
		logger.Log.Fatal("Failed to initialize event publisher", zap.Error(err))
	}

	var tp *sdktrace.TracerProvider
	if cfg.Tracing.Enabled {
		tp, err = tracing.InitTracer(cfg.Tracing)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app, err := New(cfg, db, rdb, publisher)
	if err != nil {
		logger.Log.Fatal("Failed to initialize application", zap.Error(err))
	}
	app.tracer = tp

	logger.Log.Info("Application initialized",
		zap.String("storeBackend", cfg.Store.Backend),
		zap.Bool("allowRetake", cfg.Assessment.AllowRetake))
	return app
}

// Close 停止后台任务并释放连接
func (a *App) Close() {
	a.cancel()

	// 清理 WebSocket 连接和订阅
	if a.services != nil && a.services.notifyHub != nil {
		a.services.notifyHub.Stop()
	}

	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			logger.Log.Error("Failed to close event publisher", zap.Error(err))
		}
	}

	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}

	if a.Redis != nil {
		a.Redis.Close()
	}
	logger.Sync()
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	a.Close()
	logger.Log.Info("Server exiting")
}
