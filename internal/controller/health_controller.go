package controller

import (
	"context"
	"edurefund_backend/internal/util"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// StorePinger 报名存储的连通性检查
type StorePinger interface {
	Ping(ctx context.Context) error
}

type HealthController struct {
	DB    *gorm.DB
	Redis *redis.Client
	Store StorePinger
}

func NewHealthController(db *gorm.DB, rdb *redis.Client, store StorePinger) *HealthController {
	return &HealthController{DB: db, Redis: rdb, Store: store}
}

// @Summary 健康检查
// @Description 检查数据库、Redis 和报名存储状态
// @Tags 系统
// @Produce json
// @Success 200 {object} util.Response
// @Failure 503 {object} util.Response
// @Router /api/health [get]
func (c *HealthController) HealthCheck(ctx *gin.Context) {
	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	components := gin.H{}
	healthy := true

	if c.DB != nil {
		components["database"] = "up"
		sqlDB, err := c.DB.DB()
		if err != nil || sqlDB.PingContext(reqCtx) != nil {
			components["database"] = "down"
			healthy = false
		}
	}

	if c.Redis != nil {
		components["redis"] = "up"
		if err := c.Redis.Ping(reqCtx).Err(); err != nil {
			components["redis"] = "down"
			healthy = false
		}
	}

	if c.Store != nil {
		components["enrollmentStore"] = "up"
		if err := c.Store.Ping(reqCtx); err != nil {
			components["enrollmentStore"] = "down"
			healthy = false
		}
	}

	if !healthy {
		ctx.JSON(http.StatusServiceUnavailable, util.Response{
			Code:    http.StatusServiceUnavailable,
			Message: "degraded",
			Data:    gin.H{"status": "degraded", "components": components},
		})
		return
	}

	util.Success(ctx, gin.H{
		"status":     "ok",
		"components": components,
	})
}
