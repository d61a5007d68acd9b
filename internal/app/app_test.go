package app

import (
	"bytes"
	"edurefund_backend/internal/config"
	"edurefund_backend/pkg/database"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testCatalog = `
courses:
  - id: "1"
    title: Python Programming Fundamentals
    description: Learn Python from scratch
    price: "4999.00"
    category: Programming
  - id: "2"
    title: Web Development Bootcamp
    price: "8999.99"
    category: Web Development
question_banks:
  "1":
    - id: 1
      question: Output of print(2 ** 3)?
      options: ["6", "8", "9", "5"]
      correct_answer: 1
    - id: 2
      question: Which is mutable?
      options: ["tuple", "str", "list", "int"]
      correct_answer: 2
    - id: 3
      question: Keyword for functions?
      options: ["func", "def", "fn", "lambda"]
      correct_answer: 1
    - id: 4
      question: len('abc')?
      options: ["2", "3", "4", "error"]
      correct_answer: 1
    - id: 5
      question: Comment prefix?
      options: ["//", "--", "#", "/*"]
      correct_answer: 2
`

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestApp(t *testing.T, allowRetake bool) *App {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalog), 0o644))

	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "app.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	cfg := &config.Config{
		Server:     config.ServerConfig{Mode: "test"},
		JWT:        config.JWTConfig{Secret: "test-secret-test-secret-test-secret", ExpireTime: time.Hour},
		Store:      config.StoreConfig{Backend: "database", KeyPrefix: "edurefund", Timeout: 2 * time.Second, ReadRetries: 1, RetryBackoff: time.Millisecond, MaxCASRetries: 8},
		Assessment: config.AssessmentConfig{AllowRetake: allowRetake},
		Catalog:    config.CatalogConfig{Path: catalogPath},
		CORS:       config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}

	a, err := New(cfg, db, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		sqlDB.Close()
	})
	return a
}

func call(t *testing.T, a *App, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func registerAndLogin(t *testing.T, a *App, email string) (string, string) {
	t.Helper()
	code, env := call(t, a, http.MethodPost, "/api/register", "", map[string]string{
		"name": "Ada", "email": email, "password": "password123",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)

	code, env = call(t, a, http.MethodPost, "/api/login", "", map[string]string{
		"email": email, "password": "password123",
	})
	require.Equal(t, http.StatusOK, code, env.Message)

	var login struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &login))
	require.NotEmpty(t, login.Token)
	return login.Token, login.User.ID
}

func TestRegisterAndLogin(t *testing.T) {
	a := newTestApp(t, false)
	token, userID := registerAndLogin(t, a, "ada@example.com")

	code, env := call(t, a, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), userID)
	assert.NotContains(t, string(env.Data), "password")

	code, _ = call(t, a, http.MethodGet, "/api/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = call(t, a, http.MethodPost, "/api/register", "", map[string]string{
		"name": "Ada", "email": "ADA@example.com", "password": "password123",
	})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = call(t, a, http.MethodPost, "/api/login", "", map[string]string{
		"email": "ada@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = call(t, a, http.MethodPost, "/api/register", "", map[string]string{"email": "bad"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEnrollmentFlow(t *testing.T) {
	a := newTestApp(t, false)
	token, _ := registerAndLogin(t, a, "ada@example.com")

	code, _ := call(t, a, http.MethodGet, "/api/enrollments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := call(t, a, http.MethodGet, "/api/courses?category=programming", "", nil)
	require.Equal(t, http.StatusOK, code)
	var courses []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &courses))
	require.Len(t, courses, 1)
	assert.Equal(t, 4999.0, courses[0]["price"])

	code, env = call(t, a, http.MethodGet, "/api/courses/1/questions", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(env.Data), "correctAnswer")

	code, _ = call(t, a, http.MethodPost, "/api/enrollments", token, map[string]string{"courseId": "1"})
	require.Equal(t, http.StatusCreated, code)

	code, _ = call(t, a, http.MethodPost, "/api/enrollments", token, map[string]string{"courseId": "1"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = call(t, a, http.MethodPost, "/api/enrollments", token, map[string]string{"courseId": "404"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, a, http.MethodPost, "/api/enrollments/1/test", token, map[string]interface{}{
		"answers": map[string]int{"1": 1},
	})
	assert.Equal(t, http.StatusBadRequest, code)

	// 三题正确：60%，4999.00 退 2999.40
	code, env = call(t, a, http.MethodPost, "/api/enrollments/1/test", token, map[string]interface{}{
		"answers": map[string]int{"1": 1, "2": 2, "3": 1, "4": 0, "5": 0},
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	var result struct {
		Enrollment struct {
			HasTakenTest bool    `json:"hasTakenTest"`
			TestScore    int     `json:"testScore"`
			Status       string  `json:"status"`
			FinalCost    float64 `json:"finalCost"`
		} `json:"enrollment"`
		Score struct {
			Percentage int `json:"percentage"`
		} `json:"score"`
		Refund struct {
			RefundAmount float64 `json:"refundAmount"`
			FinalCost    float64 `json:"finalCost"`
		} `json:"refund"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 60, result.Score.Percentage)
	assert.Equal(t, 2999.40, result.Refund.RefundAmount)
	assert.Equal(t, 1999.60, result.Refund.FinalCost)
	assert.True(t, result.Enrollment.HasTakenTest)
	assert.Equal(t, "scored", result.Enrollment.Status)
	assert.Equal(t, 1999.60, result.Enrollment.FinalCost)

	code, _ = call(t, a, http.MethodPost, "/api/enrollments/1/test", token, map[string]interface{}{
		"answers": map[string]int{"1": 1, "2": 2, "3": 1, "4": 1, "5": 2},
	})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = call(t, a, http.MethodPost, "/api/enrollments/2/test", token, map[string]interface{}{
		"answers": map[string]int{"1": 1},
	})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, a, http.MethodPost, "/api/enrollments/1/retake", token, map[string]interface{}{
		"answers": map[string]int{"1": 1, "2": 2, "3": 1, "4": 1, "5": 2},
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = call(t, a, http.MethodGet, "/api/dashboard", token, nil)
	require.Equal(t, http.StatusOK, code)
	var summary struct {
		EnrolledCount  int     `json:"enrolledCount"`
		CompletedCount int     `json:"completedCount"`
		TotalRefund    float64 `json:"totalRefund"`
		AverageScore   int     `json:"averageScore"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, 1, summary.EnrolledCount)
	assert.Equal(t, 1, summary.CompletedCount)
	assert.Equal(t, 2999.40, summary.TotalRefund)
	assert.Equal(t, 60, summary.AverageScore)
}

func TestLearnersSeeOnlyTheirOwnEnrollments(t *testing.T) {
	a := newTestApp(t, false)
	ada, _ := registerAndLogin(t, a, "ada@example.com")
	bob, _ := registerAndLogin(t, a, "bob@example.com")

	code, _ := call(t, a, http.MethodPost, "/api/enrollments", ada, map[string]string{"courseId": "1"})
	require.Equal(t, http.StatusCreated, code)

	code, env := call(t, a, http.MethodGet, "/api/enrollments", bob, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestRetakeWhenEnabled(t *testing.T) {
	a := newTestApp(t, true)
	token, _ := registerAndLogin(t, a, "ada@example.com")

	code, _ := call(t, a, http.MethodPost, "/api/enrollments", token, map[string]string{"courseId": "1"})
	require.Equal(t, http.StatusCreated, code)

	wrong := map[string]interface{}{"answers": map[string]int{"1": 0, "2": 0, "3": 0, "4": 0, "5": 0}}
	right := map[string]interface{}{"answers": map[string]int{"1": 1, "2": 2, "3": 1, "4": 1, "5": 2}}

	code, _ = call(t, a, http.MethodPost, "/api/enrollments/1/retake", token, right)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = call(t, a, http.MethodPost, "/api/enrollments/1/test", token, wrong)
	require.Equal(t, http.StatusOK, code)

	code, env := call(t, a, http.MethodPost, "/api/enrollments/1/retake", token, right)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"percentage":100`)
}

func TestProfile(t *testing.T) {
	a := newTestApp(t, false)
	token, userID := registerAndLogin(t, a, "ada@example.com")
	other, otherID := registerAndLogin(t, a, "bob@example.com")

	code, env := call(t, a, http.MethodGet, "/profile", token, nil)
	require.Equal(t, http.StatusOK, code)
	var view struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
		Email  string `json:"email"`
		Bio    string `json:"bio"`
		Stats  struct {
			CoursesEnrolled int `json:"coursesEnrolled"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, userID, view.UserID)
	assert.Equal(t, "ada@example.com", view.Email)

	code, _ = call(t, a, http.MethodPost, "/profile", token, map[string]string{"name": "Ada L.", "bio": "math"})
	require.Equal(t, http.StatusOK, code)

	code, _ = call(t, a, http.MethodPost, "/api/enrollments", token, map[string]string{"courseId": "2"})
	require.Equal(t, http.StatusCreated, code)

	code, env = call(t, a, http.MethodGet, "/api/profile?userId="+userID, token, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "Ada L.", view.Name)
	assert.Equal(t, "math", view.Bio)
	assert.Equal(t, 1, view.Stats.CoursesEnrolled)

	code, _ = call(t, a, http.MethodGet, "/profile?userId="+userID, other, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = call(t, a, http.MethodPost, "/profile", token, map[string]string{"userId": otherID, "name": "x"})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestHealth(t *testing.T) {
	a := newTestApp(t, false)

	code, env := call(t, a, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"enrollmentStore":"up"`)
	assert.Contains(t, string(env.Data), `"database":"up"`)
}

func TestStoreBackendRequiresConnection(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Backend: "redis"}}
	_, err := newMedium(cfg, nil, nil)
	assert.Error(t, err)

	cfg.Store.Backend = "database"
	_, err = newMedium(cfg, nil, nil)
	assert.Error(t, err)

	cfg.Store.Backend = "memory"
	_, err = newMedium(cfg, nil, nil)
	assert.NoError(t, err)

	cfg.Store.Backend = "etcd"
	_, err = newMedium(cfg, nil, nil)
	assert.Error(t, err)
}
