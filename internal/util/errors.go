package util

import "errors"

// 输入校验错误：调用方错误，不自动重试
var (
	ErrIncompleteSubmission = errors.New("incomplete submission: answer all questions")
	ErrInvalidAnswer        = errors.New("answer option out of range")
	ErrEmptyQuestionBank    = errors.New("question bank has no questions")
	ErrUnknownQuestionBank  = errors.New("no question bank registered for course")
	ErrInvalidPercentage    = errors.New("percentage must be within [0, 100]")
	ErrInvalidPrice         = errors.New("course price must not be negative")
)

// 状态冲突：预期内、可恢复
var (
	ErrAlreadyEnrolled  = errors.New("already enrolled in course")
	ErrNotEnrolled      = errors.New("not enrolled in course")
	ErrTestAlreadyTaken = errors.New("final test already taken")
	ErrTestNotTaken     = errors.New("final test not taken yet")
	ErrRetakeDisabled   = errors.New("test retakes are disabled")
)

// 存储介质错误
var (
	ErrStoreUnavailable = errors.New("enrollment store unavailable")
	ErrVersionConflict  = errors.New("version conflict")
)

var (
	ErrCourseNotFound     = errors.New("course not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrEmailRegistered    = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPermissionDenied   = errors.New("permission denied")
)
