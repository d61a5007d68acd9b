package controller

import (
	"edurefund_backend/internal/model"
	"edurefund_backend/internal/service"
	"edurefund_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type ProfileController struct {
	ProfileService *service.ProfileService
}

func NewProfileController(profileService *service.ProfileService) *ProfileController {
	return &ProfileController{ProfileService: profileService}
}

// ProfileRequest defines model for saving a profile
// swagger:model ProfileRequest
type ProfileRequest struct {
	UserID  string `json:"userId"`
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email" binding:"omitempty,email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Bio     string `json:"bio" binding:"max=2000"`
}

// resolveUser 请求中的 userId 必须是当前登录用户
func resolveUser(ctx *gin.Context, requested string) (string, bool) {
	learnerID, ok := currentLearner(ctx)
	if !ok {
		return "", false
	}
	if requested != "" && requested != learnerID {
		util.HandleError(ctx, util.ErrPermissionDenied)
		return "", false
	}
	return learnerID, true
}

// GetProfile godoc
// @Summary 获取个人资料
// @Description 含学习统计（报名课程数、累计退款）
// @Tags 个人资料
// @Produce json
// @Security ApiKeyAuth
// @Param userId query string false "用户ID，默认当前用户"
// @Success 200 {object} util.Response{data=service.ProfileView}
// @Failure 403 {object} util.Response "无权访问"
// @Failure 404 {object} util.Response "资料不存在"
// @Router /profile [get]
func (c *ProfileController) GetProfile(ctx *gin.Context) {
	userID, ok := resolveUser(ctx, ctx.Query("userId"))
	if !ok {
		return
	}

	view, err := c.ProfileService.GetProfile(ctx.Request.Context(), userID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// SaveProfile godoc
// @Summary 保存个人资料
// @Tags 个人资料
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body ProfileRequest true "个人资料"
// @Success 200 {object} util.Response{data=model.Profile}
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 403 {object} util.Response "无权修改"
// @Router /profile [post]
func (c *ProfileController) SaveProfile(ctx *gin.Context) {
	var req ProfileRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	userID, ok := resolveUser(ctx, req.UserID)
	if !ok {
		return
	}

	saved, err := c.ProfileService.SaveProfile(ctx.Request.Context(), &model.Profile{
		UserID:  userID,
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Address: req.Address,
		Bio:     req.Bio,
	})
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, saved)
}
