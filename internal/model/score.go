package model

// ScoreResult 一次提交的评分结果
type ScoreResult struct {
	CorrectCount int `json:"correctCount"`
	TotalCount   int `json:"totalCount"`
	Percentage   int `json:"percentage"`
}

// RefundResult 根据成绩计算出的退款
type RefundResult struct {
	CoursePrice  Money `json:"coursePrice"`
	RefundAmount Money `json:"refundAmount"`
	FinalCost    Money `json:"finalCost"`
}
