package controller

import (
	"edurefund_backend/internal/service"

	"github.com/gin-gonic/gin"
)

type NotifyController struct {
	Hub *service.NotifyHub
}

func NewNotifyController(hub *service.NotifyHub) *NotifyController {
	return &NotifyController{Hub: hub}
}

// Connect godoc
// @Summary 报名变更通知
// @Description 建立 websocket 连接，收到 ENROLLMENT_CHANGED 后客户端应重新加载报名数据
// @Tags 通知
// @Security ApiKeyAuth
// @Param token query string false "JWT，浏览器握手无法携带请求头时使用"
// @Router /api/ws [get]
func (c *NotifyController) Connect(ctx *gin.Context) {
	learnerID, ok := currentLearner(ctx)
	if !ok {
		return
	}
	service.ServeNotifyWs(c.Hub, ctx.Writer, ctx.Request, learnerID)
}
