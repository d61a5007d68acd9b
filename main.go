// @title EduRefund 后端 API
// @version 1.0
// @description 按期末测试成绩退还课程费用的在线学习平台后端。
// @termsOfService http://swagger.io/terms/

// @contact.name API支持
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

package main

import (
	"edurefund_backend/internal/app"
	"edurefund_backend/internal/config"
	"edurefund_backend/pkg/database"
	"edurefund_backend/pkg/logger"
	"flag"
	"log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// 命令行参数
	configDir := flag.String("config", "configs", "配置文件目录")
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	flag.Parse()

	// .env 不存在时忽略，环境变量仍然生效
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *migrateOnly {
		logger.InitLogger(cfg)
		defer logger.Log.Sync()
		if _, err := database.InitDB(&cfg.Database, cfg.Server.Mode); err != nil {
			logger.Log.Fatal("Database migration failed", zap.Error(err))
		}
		logger.Log.Info("数据库迁移完成，退出程序")
		return
	}

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	application.Run()
}
