package service

import (
	"edurefund_backend/internal/model"
	"edurefund_backend/internal/util"
	"fmt"
)

// QuestionBankSource 按课程提供只读题库
type QuestionBankSource interface {
	QuestionBank(courseID string) (*model.QuestionBank, error)
}

// AssessmentScorer 纯函数评分，不做任何存储
type AssessmentScorer struct {
	Banks QuestionBankSource
}

func NewAssessmentScorer(banks QuestionBankSource) *AssessmentScorer {
	return &AssessmentScorer{Banks: banks}
}

// Score 先校验完整性，再计算得分；百分比四舍五入（0.5 进位）
func (s *AssessmentScorer) Score(submission model.SubmittedAnswerSet, bank *model.QuestionBank) (*model.ScoreResult, error) {
	if bank == nil || len(bank.Questions) == 0 {
		return nil, util.ErrEmptyQuestionBank
	}

	for _, q := range bank.Questions {
		chosen, ok := submission[q.ID]
		if !ok || chosen < 0 {
			return nil, fmt.Errorf("%w: question %d", util.ErrIncompleteSubmission, q.ID)
		}
		if chosen >= len(q.Options) {
			return nil, fmt.Errorf("%w: question %d option %d", util.ErrInvalidAnswer, q.ID, chosen)
		}
	}

	correct := 0
	for _, q := range bank.Questions {
		if submission[q.ID] == q.CorrectIndex {
			correct++
		}
	}

	total := len(bank.Questions)
	return &model.ScoreResult{
		CorrectCount: correct,
		TotalCount:   total,
		Percentage:   roundPercentage(correct, total),
	}, nil
}

// ScoreCourse 从题库来源查找课程题库后评分
func (s *AssessmentScorer) ScoreCourse(courseID string, submission model.SubmittedAnswerSet) (*model.ScoreResult, error) {
	if s.Banks == nil {
		return nil, util.ErrUnknownQuestionBank
	}
	bank, err := s.Banks.QuestionBank(courseID)
	if err != nil {
		return nil, err
	}
	return s.Score(submission, bank)
}

// roundPercentage = round(correct/total*100)，整数运算，0.5 向上进位
func roundPercentage(correct, total int) int {
	return (2*correct*100 + total) / (2 * total)
}
