package service

import (
	"context"
	"edurefund_backend/internal/config"
	"edurefund_backend/internal/event"
	"edurefund_backend/internal/model"
	"edurefund_backend/internal/util"
	"edurefund_backend/pkg/logger"
	"edurefund_backend/pkg/monitoring"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

const recentActivityLimit = 5

// EnrollmentStore 报名集合的持久化接口
type EnrollmentStore interface {
	Load(ctx context.Context, learnerID string) (model.EnrollmentSet, error)
	Enroll(ctx context.Context, learnerID string, record model.EnrollmentRecord) (*model.EnrollmentRecord, error)
	RecordTestResult(ctx context.Context, learnerID, courseID string, score *model.ScoreResult, refund *model.RefundResult) (*model.EnrollmentRecord, error)
	RetakeTest(ctx context.Context, learnerID, courseID string, score *model.ScoreResult, refund *model.RefundResult) (*model.EnrollmentRecord, error)
}

// TestOutcome 一次期末测试的完整结果
type TestOutcome struct {
	Record *model.EnrollmentRecord `json:"enrollment"`
	Score  *model.ScoreResult      `json:"score"`
	Refund *model.RefundResult     `json:"refund"`
}

type EnrollmentService struct {
	Store     EnrollmentStore
	Catalog   *CatalogService
	Scorer    *AssessmentScorer
	Refunds   *RefundCalculator
	Publisher event.Publisher
	Cfg       config.AssessmentConfig
}

func NewEnrollmentService(
	store EnrollmentStore,
	catalog *CatalogService,
	publisher event.Publisher,
	cfg config.AssessmentConfig,
) *EnrollmentService {
	return &EnrollmentService{
		Store:     store,
		Catalog:   catalog,
		Scorer:    NewAssessmentScorer(catalog),
		Refunds:   NewRefundCalculator(),
		Publisher: publisher,
		Cfg:       cfg,
	}
}

// Enroll 价格取报名时刻的目录价格，之后不再变化
func (s *EnrollmentService) Enroll(ctx context.Context, learnerID, courseID string) (*model.EnrollmentRecord, error) {
	course, err := s.Catalog.Course(courseID)
	if err != nil {
		return nil, err
	}

	rec, err := s.Store.Enroll(ctx, learnerID, course.NewEnrollmentRecord())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, learnerID, courseID, model.ChangeEnrolled)
	return rec, nil
}

func (s *EnrollmentService) List(ctx context.Context, learnerID string) (model.EnrollmentSet, error) {
	return s.Store.Load(ctx, learnerID)
}

// SubmitTest 加载记录 -> 评分 -> 计算退款 -> 合并写回
func (s *EnrollmentService) SubmitTest(ctx context.Context, learnerID, courseID string, answers model.SubmittedAnswerSet) (*TestOutcome, error) {
	return s.grade(ctx, learnerID, courseID, answers, false)
}

// RetakeTest 仅在配置允许时可用，覆盖上一次的成绩和退款
func (s *EnrollmentService) RetakeTest(ctx context.Context, learnerID, courseID string, answers model.SubmittedAnswerSet) (*TestOutcome, error) {
	if !s.Cfg.AllowRetake {
		return nil, util.ErrRetakeDisabled
	}
	return s.grade(ctx, learnerID, courseID, answers, true)
}

func (s *EnrollmentService) grade(ctx context.Context, learnerID, courseID string, answers model.SubmittedAnswerSet, retake bool) (*TestOutcome, error) {
	set, err := s.Store.Load(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	rec, ok := set.Find(courseID)
	if !ok {
		return nil, util.ErrNotEnrolled
	}
	// 提前拒绝，避免无意义的评分；存储层会在写入时再次原子校验
	if !retake && rec.HasTakenTest {
		return nil, util.ErrTestAlreadyTaken
	}
	if retake && !rec.HasTakenTest {
		return nil, util.ErrTestNotTaken
	}

	score, err := s.Scorer.ScoreCourse(courseID, answers)
	if err != nil {
		monitoring.TestSubmissions.WithLabelValues("rejected").Inc()
		return nil, err
	}

	refund, err := s.Refunds.Calculate(score.Percentage, rec.Price)
	if err != nil {
		return nil, err
	}

	var updated *model.EnrollmentRecord
	kind := model.ChangeScored
	if retake {
		kind = model.ChangeRetaken
		updated, err = s.Store.RetakeTest(ctx, learnerID, courseID, score, refund)
	} else {
		updated, err = s.Store.RecordTestResult(ctx, learnerID, courseID, score, refund)
	}
	if err != nil {
		monitoring.TestSubmissions.WithLabelValues("failed").Inc()
		return nil, err
	}

	monitoring.TestSubmissions.WithLabelValues("scored").Inc()
	monitoring.TestScores.Observe(float64(score.Percentage))
	logger.Log.Info("Final test scored",
		zap.String("learnerId", learnerID),
		zap.String("courseId", courseID),
		zap.Int("percentage", score.Percentage),
		zap.String("refund", refund.RefundAmount.String()),
		zap.Bool("retake", retake))

	s.publish(ctx, learnerID, courseID, kind)
	return &TestOutcome{Record: updated, Score: score, Refund: refund}, nil
}

// Dashboard 只汇总该学生自己的报名集合
func (s *EnrollmentService) Dashboard(ctx context.Context, learnerID string) (*model.DashboardSummary, error) {
	set, err := s.Store.Load(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	return Summarize(set), nil
}

// Summarize 计算仪表盘统计，平均分四舍五入
func Summarize(set model.EnrollmentSet) *model.DashboardSummary {
	summary := &model.DashboardSummary{
		EnrolledCount:  len(set),
		RecentActivity: []model.Activity{},
	}

	scoreSum, scored := 0, 0
	var activity []model.Activity
	for _, rec := range set {
		if !rec.EnrolledAt.IsZero() {
			activity = append(activity, model.Activity{
				Type:     model.ActivityEnrolled,
				CourseID: rec.CourseID,
				Title:    rec.Title,
				At:       rec.EnrolledAt,
			})
		}

		if !rec.HasTakenTest {
			summary.InProgressCount++
			continue
		}
		summary.CompletedCount++
		if rec.TestScore != nil {
			scoreSum += *rec.TestScore
			scored++
		}
		if rec.RefundAmount != nil {
			summary.TotalRefund += *rec.RefundAmount
		}

		if rec.TestTakenAt != nil && rec.TestScore != nil {
			activity = append(activity, model.Activity{
				Type:     model.ActivityTestTaken,
				CourseID: rec.CourseID,
				Title:    rec.Title,
				Detail:   fmt.Sprintf("Score: %d%%", *rec.TestScore),
				At:       *rec.TestTakenAt,
			})
			if rec.RefundAmount != nil && *rec.RefundAmount > 0 {
				activity = append(activity, model.Activity{
					Type:     model.ActivityRefund,
					CourseID: rec.CourseID,
					Title:    rec.Title,
					Detail:   "Refund: " + rec.RefundAmount.String(),
					At:       *rec.TestTakenAt,
				})
			}
		}
	}

	if scored > 0 {
		summary.AverageScore = (2*scoreSum + scored) / (2 * scored)
	}

	slices.SortStableFunc(activity, func(a, b model.Activity) int {
		return b.At.Compare(a.At)
	})
	if len(activity) > recentActivityLimit {
		activity = activity[:recentActivityLimit]
	}
	if activity != nil {
		summary.RecentActivity = activity
	}
	return summary
}

// LearningStats 个人资料页展示的学习统计
type LearningStats struct {
	CoursesEnrolled  int         `json:"coursesEnrolled"`
	CoursesCompleted int         `json:"coursesCompleted"`
	TotalRefund      model.Money `json:"totalRefund"`
	Categories       []string    `json:"categories"`
}

func (s *EnrollmentService) Stats(ctx context.Context, learnerID string) (*LearningStats, error) {
	set, err := s.Store.Load(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	summary := Summarize(set)
	stats := &LearningStats{
		CoursesEnrolled:  summary.EnrolledCount,
		CoursesCompleted: summary.CompletedCount,
		TotalRefund:      summary.TotalRefund,
		Categories:       []string{},
	}
	for _, rec := range set {
		if rec.Category != "" && !slices.ContainsFunc(stats.Categories, func(c string) bool {
			return strings.EqualFold(c, rec.Category)
		}) {
			stats.Categories = append(stats.Categories, rec.Category)
		}
	}
	return stats, nil
}

// publish 外部事件发布失败不影响已提交的结果
func (s *EnrollmentService) publish(ctx context.Context, learnerID, courseID string, kind model.ChangeKind) {
	if s.Publisher == nil {
		return
	}
	ev := &model.ChangeEvent{
		LearnerID: learnerID,
		CourseID:  courseID,
		Kind:      kind,
		At:        time.Now().UTC(),
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.Publisher.PublishEnrollmentEvent(pubCtx, ev); err != nil {
		logger.Log.Warn("Failed to publish enrollment event",
			zap.String("learnerId", learnerID),
			zap.String("courseId", courseID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}
