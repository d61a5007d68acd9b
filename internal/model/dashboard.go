package model

import "time"

type ActivityType string

const (
	ActivityEnrolled  ActivityType = "enrolled"
	ActivityTestTaken ActivityType = "test_completed"
	ActivityRefund    ActivityType = "refund_processed"
)

type Activity struct {
	Type     ActivityType `json:"type"`
	CourseID string       `json:"courseId"`
	Title    string       `json:"title"`
	Detail   string       `json:"detail,omitempty"`
	At       time.Time    `json:"at"`
}

// DashboardSummary 仅基于单个学生自己的报名集合汇总
type DashboardSummary struct {
	EnrolledCount   int        `json:"enrolledCount"`
	CompletedCount  int        `json:"completedCount"`
	InProgressCount int        `json:"inProgressCount"`
	TotalRefund     Money      `json:"totalRefund"`
	AverageScore    int        `json:"averageScore"`
	RecentActivity  []Activity `json:"recentActivity"`
}
