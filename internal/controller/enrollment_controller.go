package controller

import (
	"edurefund_backend/internal/model"
	"edurefund_backend/internal/service"
	"edurefund_backend/internal/util"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"
)

type EnrollmentController struct {
	EnrollmentService *service.EnrollmentService
}

func NewEnrollmentController(enrollmentService *service.EnrollmentService) *EnrollmentController {
	return &EnrollmentController{EnrollmentService: enrollmentService}
}

// EnrollRequest defines model for enrollment
// swagger:model EnrollRequest
type EnrollRequest struct {
	CourseID string `json:"courseId" binding:"required"`
}

// SubmitTestRequest 题目ID -> 选项下标，-1 表示未作答
// swagger:model SubmitTestRequest
type SubmitTestRequest struct {
	Answers map[int]int `json:"answers" binding:"required"`
}

// EnrollmentResponse 报名记录，附带状态和应付金额
type EnrollmentResponse struct {
	CourseID     string                `json:"courseId"`
	Title        string                `json:"title"`
	Description  string                `json:"description,omitempty"`
	Category     string                `json:"category,omitempty"`
	Image        string                `json:"image,omitempty"`
	Price        model.Money           `json:"price"`
	Progress     string                `json:"progress"`
	HasTakenTest bool                  `json:"hasTakenTest"`
	TestScore    *int                  `json:"testScore"`
	RefundAmount *model.Money          `json:"refundAmount"`
	FinalCost    *model.Money          `json:"finalCost,omitempty"`
	Attempts     int                   `json:"attempts"`
	Status       model.EnrollmentState `json:"status"`
	EnrolledAt   time.Time             `json:"enrolledAt"`
	TestTakenAt  *time.Time            `json:"testTakenAt,omitempty"`
}

type TestResultResponse struct {
	Enrollment EnrollmentResponse `json:"enrollment"`
	Score      *model.ScoreResult  `json:"score"`
	Refund     *model.RefundResult `json:"refund"`
}

func toEnrollmentResponse(rec *model.EnrollmentRecord) (EnrollmentResponse, error) {
	var resp EnrollmentResponse
	if err := copier.Copy(&resp, rec); err != nil {
		return resp, err
	}
	resp.Status = rec.State()
	if rec.RefundAmount != nil {
		finalCost := rec.Price - *rec.RefundAmount
		resp.FinalCost = &finalCost
	}
	return resp, nil
}

// ListEnrollments godoc
// @Summary 我的课程
// @Tags 报名
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]EnrollmentResponse}
// @Failure 503 {object} util.Response "存储暂不可用"
// @Router /api/enrollments [get]
func (c *EnrollmentController) ListEnrollments(ctx *gin.Context) {
	learnerID, ok := currentLearner(ctx)
	if !ok {
		return
	}

	set, err := c.EnrollmentService.List(ctx.Request.Context(), learnerID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	resp := make([]EnrollmentResponse, 0, len(set))
	for i := range set {
		item, err := toEnrollmentResponse(&set[i])
		if err != nil {
			util.LogInternalError(ctx, err)
			return
		}
		resp = append(resp, item)
	}
	util.Success(ctx, resp)
}

// Enroll godoc
// @Summary 报名课程
// @Description 以当前目录价格报名，价格此后不再变化
// @Tags 报名
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body EnrollRequest true "课程"
// @Success 201 {object} util.Response{data=EnrollmentResponse}
// @Failure 404 {object} util.Response "课程不存在"
// @Failure 409 {object} util.Response "已报名"
// @Router /api/enrollments [post]
func (c *EnrollmentController) Enroll(ctx *gin.Context) {
	learnerID, ok := currentLearner(ctx)
	if !ok {
		return
	}

	var req EnrollRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	rec, err := c.EnrollmentService.Enroll(ctx.Request.Context(), learnerID, req.CourseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	resp, err := toEnrollmentResponse(rec)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, resp)
}

// SubmitTest godoc
// @Summary 提交期末测试
// @Description 评分并按成绩比例计算退款，每门课程只能提交一次
// @Tags 报名
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param courseId path string true "课程ID"
// @Param body body SubmitTestRequest true "答案"
// @Success 200 {object} util.Response{data=TestResultResponse}
// @Failure 400 {object} util.Response "答案不完整"
// @Failure 404 {object} util.Response "未报名"
// @Failure 409 {object} util.Response "已参加测试"
// @Failure 503 {object} util.Response "结果待定"
// @Router /api/enrollments/{courseId}/test [post]
func (c *EnrollmentController) SubmitTest(ctx *gin.Context) {
	c.grade(ctx, false)
}

// RetakeTest godoc
// @Summary 重考
// @Description 覆盖上一次成绩，需开启 assessment.allow_retake
// @Tags 报名
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param courseId path string true "课程ID"
// @Param body body SubmitTestRequest true "答案"
// @Success 200 {object} util.Response{data=TestResultResponse}
// @Failure 403 {object} util.Response "不允许重考"
// @Failure 409 {object} util.Response "尚未参加测试"
// @Router /api/enrollments/{courseId}/retake [post]
func (c *EnrollmentController) RetakeTest(ctx *gin.Context) {
	c.grade(ctx, true)
}

func (c *EnrollmentController) grade(ctx *gin.Context, retake bool) {
	learnerID, ok := currentLearner(ctx)
	if !ok {
		return
	}

	var req SubmitTestRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	courseID := ctx.Param("courseId")
	answers := model.SubmittedAnswerSet(req.Answers)

	var (
		outcome *service.TestOutcome
		err     error
	)
	if retake {
		outcome, err = c.EnrollmentService.RetakeTest(ctx.Request.Context(), learnerID, courseID, answers)
	} else {
		outcome, err = c.EnrollmentService.SubmitTest(ctx.Request.Context(), learnerID, courseID, answers)
	}
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	enrollment, err := toEnrollmentResponse(outcome.Record)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, TestResultResponse{
		Enrollment: enrollment,
		Score:      outcome.Score,
		Refund:     outcome.Refund,
	})
}

// Dashboard godoc
// @Summary 学习仪表盘
// @Tags 报名
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=model.DashboardSummary}
// @Router /api/dashboard [get]
func (c *EnrollmentController) Dashboard(ctx *gin.Context) {
	learnerID, ok := currentLearner(ctx)
	if !ok {
		return
	}

	summary, err := c.EnrollmentService.Dashboard(ctx.Request.Context(), learnerID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, summary)
}
