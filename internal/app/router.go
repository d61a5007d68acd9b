package app

import (
	"edurefund_backend/docs"
	"edurefund_backend/internal/config"
	"edurefund_backend/internal/middleware"
	"edurefund_backend/pkg/monitoring"
	"edurefund_backend/pkg/security"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		a.registerStudentRoutes(authGroup, c)
	}

	// 3. 个人资料接口
	if c.profile != nil {
		profile := router.Group("/profile")
		profile.Use(middleware.AuthMiddleware(cfg))
		{
			profile.GET("", c.profile.GetProfile)
			profile.POST("", c.profile.SaveProfile)
		}
	}
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		if c.auth != nil {
			public.POST("/register", c.auth.Register)
			public.POST("/login", c.auth.Login)
		}

		public.GET("/courses", c.course.ListCourses)
		public.GET("/courses/:id", c.course.GetCourse)
	}
}

func (a *App) registerStudentRoutes(group *gin.RouterGroup, c *controllers) {
	if c.auth != nil {
		group.GET("/me", c.auth.Me)
	}
	group.GET("/courses/:id/questions", c.course.GetQuestions)

	enrollments := group.Group("/enrollments")
	{
		enrollments.GET("", c.enrollment.ListEnrollments)
		enrollments.POST("", c.enrollment.Enroll)
		// 按学生限制提交频率
		submitLimit := security.RateLimiter(a.ctx, a.Config.RateLimit.SubmitPerMinute, time.Minute, middleware.LearnerKey)
		enrollments.POST("/:courseId/test", submitLimit, c.enrollment.SubmitTest)
		enrollments.POST("/:courseId/retake", submitLimit, c.enrollment.RetakeTest)
	}

	group.GET("/dashboard", c.enrollment.Dashboard)
	group.GET("/ws", c.notify.Connect)

	if c.profile != nil {
		group.GET("/profile", c.profile.GetProfile)
		group.POST("/profile", c.profile.SaveProfile)
	}
}
