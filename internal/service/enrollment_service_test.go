package service

import (
	"context"
	"edurefund_backend/internal/config"
	"edurefund_backend/internal/event"
	"edurefund_backend/internal/model"
	"edurefund_backend/internal/repository"
	"edurefund_backend/internal/util"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var perfectAnswers = answers(1, 1, 2, 2, 3, 1, 4, 1, 5, 2)

type enrollmentFixture struct {
	svc       *EnrollmentService
	repo      *repository.EnrollmentRepository
	catalog   *CatalogService
	publisher *event.MockPublisher
}

func newEnrollmentFixture(t *testing.T, allowRetake bool) *enrollmentFixture {
	t.Helper()
	repo := repository.NewEnrollmentRepository(repository.NewMemoryMedium(), repository.NewMemoryBroker(), config.StoreConfig{
		KeyPrefix:     "test",
		Timeout:       time.Second,
		ReadRetries:   1,
		RetryBackoff:  time.Millisecond,
		MaxCASRetries: 8,
	})
	catalog := newTestCatalogService(t)
	publisher := event.NewMockPublisher()
	svc := NewEnrollmentService(repo, catalog, publisher, config.AssessmentConfig{AllowRetake: allowRetake})
	return &enrollmentFixture{svc: svc, repo: repo, catalog: catalog, publisher: publisher}
}

func TestEnrollCapturesCatalogPrice(t *testing.T) {
	f := newEnrollmentFixture(t, false)
	ctx := context.Background()

	rec, err := f.svc.Enroll(ctx, "learner-1", "1")
	require.NoError(t, err)
	assert.Equal(t, "1", rec.CourseID)
	assert.Equal(t, model.MustParseMoney("5999.99"), rec.Price)
	assert.Equal(t, "0%", rec.Progress)
	assert.False(t, rec.HasTakenTest)
	assert.False(t, rec.EnrolledAt.IsZero())

	_, err = f.svc.Enroll(ctx, "learner-1", "1")
	assert.ErrorIs(t, err, util.ErrAlreadyEnrolled)

	_, err = f.svc.Enroll(ctx, "learner-1", "404")
	assert.ErrorIs(t, err, util.ErrCourseNotFound)

	set, err := f.svc.List(ctx, "learner-1")
	require.NoError(t, err)
	assert.Len(t, set, 1)

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.ChangeEnrolled, events[0].Kind)
	assert.Equal(t, "learner-1", events[0].LearnerID)
}

func TestSubmitTestComputesRefund(t *testing.T) {
	f := newEnrollmentFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, "learner-1", "1")
	require.NoError(t, err)

	// 三题正确：60%
	outcome, err := f.svc.SubmitTest(ctx, "learner-1", "1", answers(1, 1, 2, 2, 3, 1, 4, 0, 5, 0))
	require.NoError(t, err)
	assert.Equal(t, 60, outcome.Score.Percentage)
	assert.Equal(t, "3599.99", outcome.Refund.RefundAmount.String())
	assert.Equal(t, "2400.00", outcome.Refund.FinalCost.String())

	rec := outcome.Record
	assert.True(t, rec.HasTakenTest)
	require.NotNil(t, rec.TestScore)
	assert.Equal(t, 60, *rec.TestScore)
	require.NotNil(t, rec.RefundAmount)
	assert.Equal(t, outcome.Refund.RefundAmount, *rec.RefundAmount)

	set, err := f.svc.List(ctx, "learner-1")
	require.NoError(t, err)
	stored, ok := set.Find("1")
	require.True(t, ok)
	assert.Equal(t, 60, *stored.TestScore)

	_, err = f.svc.SubmitTest(ctx, "learner-1", "1", perfectAnswers)
	assert.ErrorIs(t, err, util.ErrTestAlreadyTaken)

	set, err = f.svc.List(ctx, "learner-1")
	require.NoError(t, err)
	stored, _ = set.Find("1")
	assert.Equal(t, 60, *stored.TestScore, "a rejected second attempt must not change the score")

	kinds := []model.ChangeKind{}
	for _, ev := range f.publisher.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []model.ChangeKind{model.ChangeEnrolled, model.ChangeScored}, kinds)
}

func TestSubmitTestUsesEnrolledPrice(t *testing.T) {
	f := newEnrollmentFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, "learner-1", "1")
	require.NoError(t, err)

	courses := testCourses()
	courses[0].Price = model.MustParseMoney("9999.99")
	catalog, err := NewCatalog(courses, map[string]*model.QuestionBank{"1": pythonBank()})
	require.NoError(t, err)
	f.catalog.Replace(catalog)

	outcome, err := f.svc.SubmitTest(ctx, "learner-1", "1", perfectAnswers)
	require.NoError(t, err)
	assert.Equal(t, model.MustParseMoney("5999.99"), outcome.Refund.CoursePrice)
	assert.Equal(t, model.MustParseMoney("5999.99"), outcome.Refund.RefundAmount)
	assert.Equal(t, model.Money(0), outcome.Refund.FinalCost)
}

func TestSubmitTestRejections(t *testing.T) {
	f := newEnrollmentFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.SubmitTest(ctx, "learner-1", "1", perfectAnswers)
	assert.ErrorIs(t, err, util.ErrNotEnrolled)

	_, err = f.svc.Enroll(ctx, "learner-1", "1")
	require.NoError(t, err)
	_, err = f.svc.Enroll(ctx, "learner-1", "3")
	require.NoError(t, err)

	_, err = f.svc.SubmitTest(ctx, "learner-1", "1", answers(1, 1))
	assert.ErrorIs(t, err, util.ErrIncompleteSubmission)

	_, err = f.svc.SubmitTest(ctx, "learner-1", "3", answers(1, 1))
	assert.ErrorIs(t, err, util.ErrUnknownQuestionBank)

	set, err := f.svc.List(ctx, "learner-1")
	require.NoError(t, err)
	for _, rec := range set {
		assert.False(t, rec.HasTakenTest, "course %s", rec.CourseID)
	}
}

func TestRetakeTest(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		f := newEnrollmentFixture(t, false)
		_, err := f.svc.Enroll(ctx, "learner-1", "1")
		require.NoError(t, err)
		_, err = f.svc.SubmitTest(ctx, "learner-1", "1", answers(1, 0, 2, 0, 3, 0, 4, 0, 5, 0))
		require.NoError(t, err)

		_, err = f.svc.RetakeTest(ctx, "learner-1", "1", perfectAnswers)
		assert.ErrorIs(t, err, util.ErrRetakeDisabled)
	})

	t.Run("enabled", func(t *testing.T) {
		f := newEnrollmentFixture(t, true)
		_, err := f.svc.Enroll(ctx, "learner-1", "1")
		require.NoError(t, err)

		_, err = f.svc.RetakeTest(ctx, "learner-1", "1", perfectAnswers)
		assert.ErrorIs(t, err, util.ErrTestNotTaken)

		_, err = f.svc.SubmitTest(ctx, "learner-1", "1", answers(1, 0, 2, 0, 3, 0, 4, 0, 5, 0))
		require.NoError(t, err)

		outcome, err := f.svc.RetakeTest(ctx, "learner-1", "1", perfectAnswers)
		require.NoError(t, err)
		assert.Equal(t, 100, *outcome.Record.TestScore)
		assert.Equal(t, 2, outcome.Record.Attempts)
		assert.Equal(t, model.MustParseMoney("5999.99"), *outcome.Record.RefundAmount)
	})
}

func TestPublishFailureDoesNotFailSubmission(t *testing.T) {
	f := newEnrollmentFixture(t, false)
	f.publisher.Err = errors.New("broker down")
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, "learner-1", "1")
	require.NoError(t, err)
	_, err = f.svc.SubmitTest(ctx, "learner-1", "1", perfectAnswers)
	require.NoError(t, err)
}

func TestLearnersAreIsolated(t *testing.T) {
	f := newEnrollmentFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, "learner-1", "1")
	require.NoError(t, err)
	_, err = f.svc.SubmitTest(ctx, "learner-1", "1", perfectAnswers)
	require.NoError(t, err)

	set, err := f.svc.List(ctx, "learner-2")
	require.NoError(t, err)
	assert.Empty(t, set)

	summary, err := f.svc.Dashboard(ctx, "learner-2")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.EnrolledCount)
	assert.Equal(t, model.Money(0), summary.TotalRefund)
}

func TestDashboardAndStats(t *testing.T) {
	f := newEnrollmentFixture(t, false)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		_, err := f.svc.Enroll(ctx, "learner-1", id)
		require.NoError(t, err)
	}
	_, err := f.svc.SubmitTest(ctx, "learner-1", "1", answers(1, 1, 2, 2, 3, 1, 4, 0, 5, 0))
	require.NoError(t, err)

	summary, err := f.svc.Dashboard(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.EnrolledCount)
	assert.Equal(t, 1, summary.CompletedCount)
	assert.Equal(t, 2, summary.InProgressCount)
	assert.Equal(t, 60, summary.AverageScore)
	assert.Equal(t, "3599.99", summary.TotalRefund.String())
	assert.Len(t, summary.RecentActivity, 5)

	stats, err := f.svc.Stats(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.CoursesEnrolled)
	assert.Equal(t, 1, stats.CoursesCompleted)
	assert.ElementsMatch(t, []string{"Programming", "Web Development", "Data Science"}, stats.Categories)
}

func TestSummarize(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 5, d, 12, 0, 0, 0, time.UTC) }
	score := func(v int) *int { return &v }
	money := func(s string) *model.Money { m := model.MustParseMoney(s); return &m }
	at := func(d int) *time.Time { v := day(d); return &v }

	set := model.EnrollmentSet{
		{CourseID: "1", Title: "Python", EnrolledAt: day(1), HasTakenTest: true, TestScore: score(80), RefundAmount: money("4799.99"), TestTakenAt: at(10)},
		{CourseID: "2", Title: "Web", EnrolledAt: day(2), HasTakenTest: true, TestScore: score(75), RefundAmount: money("0.00"), TestTakenAt: at(11)},
		{CourseID: "3", Title: "Data", EnrolledAt: day(3)},
	}

	summary := Summarize(set)
	assert.Equal(t, 3, summary.EnrolledCount)
	assert.Equal(t, 2, summary.CompletedCount)
	assert.Equal(t, 1, summary.InProgressCount)
	assert.Equal(t, 78, summary.AverageScore, "77.5 rounds half up")
	assert.Equal(t, "4799.99", summary.TotalRefund.String())

	require.Len(t, summary.RecentActivity, 5)
	first := summary.RecentActivity[0]
	assert.Equal(t, model.ActivityTestTaken, first.Type)
	assert.Equal(t, "2", first.CourseID)
	assert.Equal(t, "Score: 75%", first.Detail)

	for _, a := range summary.RecentActivity {
		if a.Type == model.ActivityRefund {
			assert.Equal(t, "1", a.CourseID, "zero refunds produce no refund activity")
			assert.Equal(t, "Refund: 4799.99", a.Detail)
		}
	}
	for i := 1; i < len(summary.RecentActivity); i++ {
		assert.False(t, summary.RecentActivity[i].At.After(summary.RecentActivity[i-1].At))
	}
}

func TestSummarizeEmpty(t *testing.T) {
	summary := Summarize(nil)
	assert.Equal(t, 0, summary.EnrolledCount)
	assert.Equal(t, 0, summary.AverageScore)
	assert.NotNil(t, summary.RecentActivity)
	assert.Empty(t, summary.RecentActivity)
}
