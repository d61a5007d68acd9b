package repository

import (
	"context"
	"edurefund_backend/internal/config"
	"edurefund_backend/internal/model"
	"edurefund_backend/internal/util"
	"edurefund_backend/pkg/logger"
	"edurefund_backend/pkg/monitoring"
	"edurefund_backend/pkg/tracing"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	outcomeOK          = "ok"
	outcomeRejected    = "rejected"
	outcomeUnavailable = "unavailable"
	outcomeExhausted   = "conflict_exhausted"

	eventBuffer = 16
)

// mutation 在最新读取的集合上应用修改，每次 CAS 重试都会重新执行
type mutation func(set model.EnrollmentSet) (model.EnrollmentSet, *model.EnrollmentRecord, error)

// EnrollmentRepository 按学生保存报名集合，写操作为乐观并发的读-改-写循环
type EnrollmentRepository struct {
	Medium Medium
	Broker Broker
	cfg    config.StoreConfig
	now    func() time.Time
}

func NewEnrollmentRepository(medium Medium, broker Broker, cfg config.StoreConfig) *EnrollmentRepository {
	if cfg.MaxCASRetries < 1 {
		cfg.MaxCASRetries = 1
	}
	if cfg.ReadRetries < 0 {
		cfg.ReadRetries = 0
	}
	return &EnrollmentRepository{
		Medium: medium,
		Broker: broker,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Key 学生报名集合在存储介质中的键
func (r *EnrollmentRepository) Key(learnerID string) string {
	if r.cfg.KeyPrefix == "" {
		return learnerID + ":" + util.EnrollmentCollection
	}
	return fmt.Sprintf("%s:%s:%s", r.cfg.KeyPrefix, learnerID, util.EnrollmentCollection)
}

func eventTopic(key string) string {
	return key + ":events"
}

// Load 不存在时返回空集合
func (r *EnrollmentRepository) Load(ctx context.Context, learnerID string) (model.EnrollmentSet, error) {
	if learnerID == "" {
		return nil, util.ErrUserNotFound
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	ctx, span := tracing.Tracer.Start(ctx, "EnrollmentRepository.Load")
	defer span.End()

	set, _, err := r.read(ctx, r.Key(learnerID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		monitoring.StoreOperations.WithLabelValues("load", outcomeUnavailable).Inc()
		return nil, err
	}
	monitoring.StoreOperations.WithLabelValues("load", outcomeOK).Inc()
	return set, nil
}

func (r *EnrollmentRepository) List(ctx context.Context, learnerID string) (model.EnrollmentSet, error) {
	return r.Load(ctx, learnerID)
}

// Enroll 课程已存在时保持原记录不变并返回 ErrAlreadyEnrolled
func (r *EnrollmentRepository) Enroll(ctx context.Context, learnerID string, record model.EnrollmentRecord) (*model.EnrollmentRecord, error) {
	if learnerID == "" {
		return nil, util.ErrUserNotFound
	}
	if record.CourseID == "" {
		return nil, util.ErrCourseNotFound
	}
	if record.Price < 0 {
		return nil, util.ErrInvalidPrice
	}
	if record.EnrolledAt.IsZero() {
		record.EnrolledAt = r.now().UTC()
	}
	record.HasTakenTest = false
	record.TestScore = nil
	record.RefundAmount = nil
	record.TestTakenAt = nil
	record.Attempts = 0

	return r.update(ctx, "enroll", learnerID, record.CourseID, model.ChangeEnrolled,
		func(set model.EnrollmentSet) (model.EnrollmentSet, *model.EnrollmentRecord, error) {
			if set.IndexOf(record.CourseID) >= 0 {
				return nil, nil, util.ErrAlreadyEnrolled
			}
			rec := record
			return append(set, rec), &rec, nil
		})
}

// RecordTestResult 只允许一次：Enrolled -> Scored
func (r *EnrollmentRepository) RecordTestResult(ctx context.Context, learnerID, courseID string, score *model.ScoreResult, refund *model.RefundResult) (*model.EnrollmentRecord, error) {
	if err := checkResult(learnerID, score, refund); err != nil {
		return nil, err
	}
	return r.update(ctx, "record_test_result", learnerID, courseID, model.ChangeScored,
		r.applyResult(courseID, score, refund, false))
}

// RetakeTest 显式的重考：Scored -> Scored，覆盖成绩和退款
func (r *EnrollmentRepository) RetakeTest(ctx context.Context, learnerID, courseID string, score *model.ScoreResult, refund *model.RefundResult) (*model.EnrollmentRecord, error) {
	if err := checkResult(learnerID, score, refund); err != nil {
		return nil, err
	}
	return r.update(ctx, "retake_test", learnerID, courseID, model.ChangeRetaken,
		r.applyResult(courseID, score, refund, true))
}

func checkResult(learnerID string, score *model.ScoreResult, refund *model.RefundResult) error {
	if learnerID == "" {
		return util.ErrUserNotFound
	}
	if score == nil || refund == nil {
		return errors.New("score and refund are required")
	}
	if score.Percentage < 0 || score.Percentage > 100 {
		return util.ErrInvalidPercentage
	}
	return nil
}

func (r *EnrollmentRepository) applyResult(courseID string, score *model.ScoreResult, refund *model.RefundResult, retake bool) mutation {
	return func(set model.EnrollmentSet) (model.EnrollmentSet, *model.EnrollmentRecord, error) {
		i := set.IndexOf(courseID)
		if i < 0 {
			return nil, nil, util.ErrNotEnrolled
		}
		rec := &set[i]
		if retake && !rec.HasTakenTest {
			return nil, nil, util.ErrTestNotTaken
		}
		if !retake && rec.HasTakenTest {
			return nil, nil, util.ErrTestAlreadyTaken
		}
		if refund.CoursePrice != rec.Price {
			return nil, nil, fmt.Errorf("%w: refund computed for %s, enrolled at %s", util.ErrInvalidPrice, refund.CoursePrice, rec.Price)
		}

		rec.ApplyTestResult(score, refund, r.now().UTC())
		out := set[i:i+1].Clone()[0]
		return set, &out, nil
	}
}

// Subscribe 返回该学生的变更事件流，调用返回的函数取消订阅
func (r *EnrollmentRepository) Subscribe(ctx context.Context, learnerID string) (<-chan model.ChangeEvent, func(), error) {
	if r.Broker == nil {
		return nil, nil, errors.New("enrollment store has no broker")
	}
	sub, err := r.Broker.Subscribe(ctx, eventTopic(r.Key(learnerID)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: subscribe: %w", util.ErrStoreUnavailable, err)
	}

	events := make(chan model.ChangeEvent, eventBuffer)
	done := make(chan struct{})
	go func() {
		defer close(events)
		for payload := range sub.Messages() {
			var ev model.ChangeEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				logger.Log.Warn("Discarding malformed change event", zap.String("learnerId", learnerID), zap.Error(err))
				continue
			}
			select {
			case events <- ev:
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			sub.Close()
		})
	}
	return events, cancel, nil
}

func (r *EnrollmentRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.Medium.Ping(ctx)
}

func (r *EnrollmentRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.Timeout)
}

func (r *EnrollmentRepository) update(ctx context.Context, op, learnerID, courseID string, kind model.ChangeKind, mutate mutation) (*model.EnrollmentRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	ctx, span := tracing.Tracer.Start(ctx, "EnrollmentRepository."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("learner.id", learnerID),
		attribute.String("course.id", courseID),
	)

	key := r.Key(learnerID)
	for attempt := 1; attempt <= r.cfg.MaxCASRetries; attempt++ {
		set, version, err := r.read(ctx, key)
		if err != nil {
			return nil, r.fail(span, op, outcomeUnavailable, err)
		}

		next, rec, err := mutate(set)
		if err != nil {
			monitoring.StoreOperations.WithLabelValues(op, outcomeRejected).Inc()
			return nil, err
		}

		data, err := next.Marshal()
		if err != nil {
			return nil, r.fail(span, op, outcomeUnavailable, fmt.Errorf("encode enrollment set: %w", err))
		}

		newVersion, err := r.Medium.CompareAndSwap(ctx, key, version, data)
		if errors.Is(err, util.ErrVersionConflict) {
			monitoring.StoreCASConflicts.WithLabelValues(op).Inc()
			logger.Log.Debug("Enrollment set changed concurrently, retrying",
				zap.String("key", key), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			// 写失败不盲目重试，由调用方决定
			return nil, r.fail(span, op, outcomeUnavailable, fmt.Errorf("%w: write %s: %w", util.ErrStoreUnavailable, key, err))
		}

		span.SetAttributes(attribute.Int64("store.version", newVersion), attribute.Int("store.attempts", attempt))
		monitoring.StoreOperations.WithLabelValues(op, outcomeOK).Inc()
		r.notify(ctx, key, model.ChangeEvent{
			LearnerID: learnerID,
			CourseID:  courseID,
			Kind:      kind,
			Version:   newVersion,
			At:        r.now().UTC(),
		})
		return rec, nil
	}

	err := fmt.Errorf("%w: %s: gave up after %d version conflicts", util.ErrStoreUnavailable, op, r.cfg.MaxCASRetries)
	return nil, r.fail(span, op, outcomeExhausted, err)
}

func (r *EnrollmentRepository) fail(span trace.Span, op, outcome string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	monitoring.StoreOperations.WithLabelValues(op, outcome).Inc()
	logger.Log.Error("Enrollment store operation failed", zap.String("operation", op), zap.Error(err))
	return err
}

// read 读操作幂等，失败时按退避间隔重试
func (r *EnrollmentRepository) read(ctx context.Context, key string) (model.EnrollmentSet, int64, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.ReadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, fmt.Errorf("%w: read %s: %w", util.ErrStoreUnavailable, key, ctx.Err())
			case <-time.After(r.cfg.RetryBackoff * time.Duration(attempt)):
			}
		}

		data, version, found, err := r.Medium.Get(ctx, key)
		if err != nil {
			lastErr = err
			logger.Log.Warn("Enrollment store read failed", zap.String("key", key), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		if !found {
			return model.EnrollmentSet{}, 0, nil
		}

		set, err := model.UnmarshalEnrollmentSet(data)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: decode %s: %w", util.ErrStoreUnavailable, key, err)
		}
		return set, version, nil
	}
	return nil, 0, fmt.Errorf("%w: read %s: %w", util.ErrStoreUnavailable, key, lastErr)
}

// notify 尽力而为，发布失败只记录日志
func (r *EnrollmentRepository) notify(ctx context.Context, key string, ev model.ChangeEvent) {
	if r.Broker == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Error("Failed to encode change event", zap.Error(err))
		return
	}

	pubCtx, cancel := r.withTimeout(context.WithoutCancel(ctx))
	defer cancel()
	if err := r.Broker.Publish(pubCtx, eventTopic(key), payload); err != nil {
		logger.Log.Warn("Failed to publish change event",
			zap.String("key", key), zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}
