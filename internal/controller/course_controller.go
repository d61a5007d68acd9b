package controller

import (
	"edurefund_backend/internal/service"
	"edurefund_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type CourseController struct {
	Catalog *service.CatalogService
}

func NewCourseController(catalog *service.CatalogService) *CourseController {
	return &CourseController{Catalog: catalog}
}

// ListCourses godoc
// @Summary 课程列表
// @Description 支持按分类和关键字过滤
// @Tags 课程
// @Produce json
// @Param category query string false "分类"
// @Param q query string false "关键字"
// @Success 200 {object} util.Response{data=[]model.Course}
// @Router /api/courses [get]
func (c *CourseController) ListCourses(ctx *gin.Context) {
	courses := c.Catalog.Courses(ctx.Query("category"), ctx.Query("q"))
	util.Success(ctx, courses)
}

// GetCourse godoc
// @Summary 课程详情
// @Tags 课程
// @Produce json
// @Param id path string true "课程ID"
// @Success 200 {object} util.Response{data=model.Course}
// @Failure 404 {object} util.Response "课程不存在"
// @Router /api/courses/{id} [get]
func (c *CourseController) GetCourse(ctx *gin.Context) {
	course, err := c.Catalog.Course(ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, course)
}

// GetQuestions godoc
// @Summary 期末测试题目
// @Description 返回不含答案的题目
// @Tags 课程
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "课程ID"
// @Success 200 {object} util.Response{data=[]model.StudentQuestion}
// @Failure 404 {object} util.Response "题库不存在"
// @Router /api/courses/{id}/questions [get]
func (c *CourseController) GetQuestions(ctx *gin.Context) {
	questions, err := c.Catalog.StudentQuestions(ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, questions)
}
