package util

import (
	"edurefund_backend/pkg/logger"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "created",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
	})
}

func Unauthorized(c *gin.Context) {
	Error(c, http.StatusUnauthorized, "Unauthorized")
}

func Forbidden(c *gin.Context) {
	Error(c, http.StatusForbidden, "Forbidden")
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func NotFound(c *gin.Context) {
	Error(c, http.StatusNotFound, "Resource not found")
}

func InternalServerError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "Internal server error")
}

func LogInternalError(c *gin.Context, err error) {
	logger.Log.Error("Internal server error", zap.Error(err), zap.String("path", c.FullPath()))
	InternalServerError(c)
}

var errorStatus = []struct {
	err    error
	status int
}{
	{ErrIncompleteSubmission, http.StatusBadRequest},
	{ErrInvalidAnswer, http.StatusBadRequest},
	{ErrEmptyQuestionBank, http.StatusBadRequest},
	{ErrInvalidPercentage, http.StatusBadRequest},
	{ErrInvalidPrice, http.StatusBadRequest},
	{ErrUnknownQuestionBank, http.StatusNotFound},
	{ErrCourseNotFound, http.StatusNotFound},
	{ErrNotEnrolled, http.StatusNotFound},
	{ErrProfileNotFound, http.StatusNotFound},
	{ErrUserNotFound, http.StatusNotFound},
	{ErrAlreadyEnrolled, http.StatusConflict},
	{ErrTestAlreadyTaken, http.StatusConflict},
	{ErrTestNotTaken, http.StatusConflict},
	{ErrEmailRegistered, http.StatusConflict},
	{ErrRetakeDisabled, http.StatusForbidden},
	{ErrPermissionDenied, http.StatusForbidden},
	{ErrInvalidCredentials, http.StatusUnauthorized},
}

// HandleError 将业务错误映射为 HTTP 状态码，未知错误记录日志后返回 500
func HandleError(c *gin.Context, err error) {
	if errors.Is(err, ErrStoreUnavailable) {
		logger.Log.Warn("enrollment store unavailable", zap.Error(err))
		Error(c, http.StatusServiceUnavailable, "results pending, please retry later")
		return
	}
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			Error(c, e.status, e.err.Error())
			return
		}
	}
	LogInternalError(c, err)
}
