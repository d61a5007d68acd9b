package controller

import (
	"bytes"
	"context"
	"edurefund_backend/internal/config"
	"edurefund_backend/internal/event"
	"edurefund_backend/internal/model"
	"edurefund_backend/internal/service"
	"edurefund_backend/internal/util"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore 读取成功，写入时返回预设错误
type stubStore struct {
	set      model.EnrollmentSet
	loadErr  error
	writeErr error
}

func (s *stubStore) Load(ctx context.Context, learnerID string) (model.EnrollmentSet, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.set.Clone(), nil
}

func (s *stubStore) Enroll(ctx context.Context, learnerID string, record model.EnrollmentRecord) (*model.EnrollmentRecord, error) {
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	s.set = append(s.set, record)
	return &record, nil
}

func (s *stubStore) RecordTestResult(ctx context.Context, learnerID, courseID string, score *model.ScoreResult, refund *model.RefundResult) (*model.EnrollmentRecord, error) {
	return nil, s.writeErr
}

func (s *stubStore) RetakeTest(ctx context.Context, learnerID, courseID string, score *model.ScoreResult, refund *model.RefundResult) (*model.EnrollmentRecord, error) {
	return nil, s.writeErr
}

func newTestRouter(t *testing.T, store service.EnrollmentStore, learnerID string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	catalog, err := service.NewCatalog(
		[]model.Course{{ID: "1", Title: "Python", Price: model.MustParseMoney("5999.99")}},
		map[string]*model.QuestionBank{"1": {Questions: []model.Question{
			{ID: 1, Options: []string{"a", "b"}, CorrectIndex: 0},
			{ID: 2, Options: []string{"a", "b"}, CorrectIndex: 1},
		}}},
	)
	require.NoError(t, err)

	svc := service.NewEnrollmentService(store, service.NewCatalogService(catalog), event.NewMockPublisher(), config.AssessmentConfig{})
	c := NewEnrollmentController(svc)

	r := gin.New()
	r.Use(func(ctx *gin.Context) {
		if learnerID != "" {
			ctx.Set(util.ContextUserKey, &util.Claims{UserID: learnerID})
		}
		ctx.Next()
	})
	r.GET("/api/enrollments", c.ListEnrollments)
	r.POST("/api/enrollments", c.Enroll)
	r.POST("/api/enrollments/:courseId/test", c.SubmitTest)
	r.GET("/api/dashboard", c.Dashboard)
	return r
}

func serve(r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, util.Response) {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp util.Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestStoreUnavailableMapsTo503(t *testing.T) {
	unavailable := fmt.Errorf("%w: write: %w", util.ErrStoreUnavailable, context.DeadlineExceeded)
	store := &stubStore{
		set:      model.EnrollmentSet{{CourseID: "1", Price: model.MustParseMoney("5999.99")}},
		writeErr: unavailable,
	}
	r := newTestRouter(t, store, "learner-1")

	w, resp := serve(r, http.MethodPost, "/api/enrollments/1/test", map[string]interface{}{
		"answers": map[string]int{"1": 0, "2": 1},
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "results pending, please retry later", resp.Message)

	store.loadErr = unavailable
	w, _ = serve(r, http.MethodGet, "/api/dashboard", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEnrollmentHandlersRequireLearner(t *testing.T) {
	r := newTestRouter(t, &stubStore{}, "")

	w, _ := serve(r, http.MethodGet, "/api/enrollments", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = serve(r, http.MethodPost, "/api/enrollments", map[string]string{"courseId": "1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEnrollBindsRequest(t *testing.T) {
	store := &stubStore{}
	r := newTestRouter(t, store, "learner-1")

	w, _ := serve(r, http.MethodPost, "/api/enrollments", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := serve(r, http.MethodPost, "/api/enrollments", map[string]string{"courseId": "1"})
	require.Equal(t, http.StatusCreated, w.Code)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "enrolled", data["status"])
	assert.Equal(t, 5999.99, data["price"])
	assert.Nil(t, data["testScore"])

	w, resp = serve(r, http.MethodGet, "/api/enrollments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, list, 1)
}

func TestToEnrollmentResponseFinalCost(t *testing.T) {
	score := 60
	refund := model.MustParseMoney("2999.40")
	rec := &model.EnrollmentRecord{
		CourseID:     "1",
		Price:        model.MustParseMoney("4999.00"),
		HasTakenTest: true,
		TestScore:    &score,
		RefundAmount: &refund,
	}

	resp, err := toEnrollmentResponse(rec)
	require.NoError(t, err)
	assert.Equal(t, model.StateScored, resp.Status)
	require.NotNil(t, resp.FinalCost)
	assert.Equal(t, "1999.60", resp.FinalCost.String())
	assert.Equal(t, 60, *resp.TestScore)
}
