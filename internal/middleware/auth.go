package middleware

import (
	"edurefund_backend/internal/config"
	"edurefund_backend/internal/util"
	"edurefund_backend/pkg/logger"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// bearerToken 优先取 Authorization 头；websocket 握手无法带请求头时用 ?token=
func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		token = strings.TrimSpace(token)
		return token, token != ""
	}
	token := c.Query("token")
	return token, token != ""
}

// AuthMiddleware 校验令牌并把学生标识写入上下文和当前 span
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(tokenString, cfg.JWT.Secret)
		if err != nil {
			logger.Log.Debug("JWT rejected", zap.String("path", c.FullPath()), zap.Error(err))
			util.Unauthorized(c)
			c.Abort()
			return
		}

		trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.String("learner.id", claims.LearnerID()))
		c.Set(util.ContextUserKey, claims)
		c.Next()
	}
}

// LearnerKey 用于按学生限流，未认证时返回空
func LearnerKey(c *gin.Context) string {
	if claims := util.GetUserFromContext(c); claims != nil {
		return claims.LearnerID()
	}
	return ""
}
