package model

import (
	"encoding/json"
	"time"
)

type EnrollmentState string

const (
	StateEnrolled EnrollmentState = "enrolled"
	StateScored   EnrollmentState = "scored"
)

// EnrollmentRecord 学生与某门课程的关系，价格在报名时确定后不再变化
type EnrollmentRecord struct {
	CourseID     string     `json:"courseId"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Category     string     `json:"category,omitempty"`
	Image        string     `json:"image,omitempty"`
	Price        Money      `json:"price"`
	Progress     string     `json:"progress"`
	HasTakenTest bool       `json:"hasTakenTest"`
	TestScore    *int       `json:"testScore"`
	RefundAmount *Money     `json:"refundAmount"`
	Attempts     int        `json:"attempts"`
	EnrolledAt   time.Time  `json:"enrolledAt"`
	TestTakenAt  *time.Time `json:"testTakenAt,omitempty"`
}

func (r *EnrollmentRecord) State() EnrollmentState {
	if r.HasTakenTest {
		return StateScored
	}
	return StateEnrolled
}

// ApplyTestResult 只修改测试相关字段，其余字段保持不变
func (r *EnrollmentRecord) ApplyTestResult(score *ScoreResult, refund *RefundResult, at time.Time) {
	pct := score.Percentage
	amount := refund.RefundAmount
	takenAt := at

	r.HasTakenTest = true
	r.TestScore = &pct
	r.RefundAmount = &amount
	r.TestTakenAt = &takenAt
	r.Attempts++
}

// EnrollmentSet 一个学生的全部报名记录，是存储和并发控制的最小单位
type EnrollmentSet []EnrollmentRecord

func (s EnrollmentSet) IndexOf(courseID string) int {
	for i := range s {
		if s[i].CourseID == courseID {
			return i
		}
	}
	return -1
}

func (s EnrollmentSet) Find(courseID string) (*EnrollmentRecord, bool) {
	i := s.IndexOf(courseID)
	if i < 0 {
		return nil, false
	}
	rec := s[i]
	return &rec, true
}

// Clone 深拷贝，保证读出的记录不与存储层共享指针
func (s EnrollmentSet) Clone() EnrollmentSet {
	out := make(EnrollmentSet, len(s))
	for i, rec := range s {
		if rec.TestScore != nil {
			v := *rec.TestScore
			rec.TestScore = &v
		}
		if rec.RefundAmount != nil {
			v := *rec.RefundAmount
			rec.RefundAmount = &v
		}
		if rec.TestTakenAt != nil {
			v := *rec.TestTakenAt
			rec.TestTakenAt = &v
		}
		out[i] = rec
	}
	return out
}

func (s EnrollmentSet) Marshal() ([]byte, error) {
	if s == nil {
		s = EnrollmentSet{}
	}
	return json.Marshal(s)
}

func UnmarshalEnrollmentSet(data []byte) (EnrollmentSet, error) {
	if len(data) == 0 {
		return EnrollmentSet{}, nil
	}
	var s EnrollmentSet
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s == nil {
		s = EnrollmentSet{}
	}
	return s, nil
}
