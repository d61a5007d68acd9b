package model

import "time"

type ChangeKind string

const (
	ChangeEnrolled ChangeKind = "enrolled"
	ChangeScored   ChangeKind = "scored"
	ChangeRetaken  ChangeKind = "retaken"
)

// ChangeEvent 报名集合变更通知，消费方应重新加载而不是信任负载
type ChangeEvent struct {
	LearnerID string     `json:"learnerId"`
	CourseID  string     `json:"courseId"`
	Kind      ChangeKind `json:"kind"`
	Version   int64      `json:"version"`
	At        time.Time  `json:"at"`
}
