package model

import (
	"errors"
	"fmt"
)

// Unanswered 学生未作答时提交的占位选项下标
const Unanswered = -1

var (
	ErrQuestionTooFewOptions    = errors.New("question must have at least two options")
	ErrQuestionAnswerOutOfRange = errors.New("correct answer index out of range")
	ErrQuestionDuplicateID      = errors.New("duplicate question id")
)

// Question 单选题
type Question struct {
	ID           int      `json:"id" mapstructure:"id"`
	Prompt       string   `json:"question" mapstructure:"question"`
	Options      []string `json:"options" mapstructure:"options"`
	CorrectIndex int      `json:"correctAnswer" mapstructure:"correct_answer"`
}

func (q Question) Validate() error {
	if len(q.Options) < 2 {
		return fmt.Errorf("question %d: %w", q.ID, ErrQuestionTooFewOptions)
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		return fmt.Errorf("question %d: %w", q.ID, ErrQuestionAnswerOutOfRange)
	}
	return nil
}

// QuestionBank 某门课程的期末测试题库，加载后只读
type QuestionBank struct {
	CourseID  string     `json:"courseId"`
	Questions []Question `json:"questions"`
}

// Validate 不检查题目数量，空题库由评分器拒绝
func (b *QuestionBank) Validate() error {
	seen := make(map[int]bool, len(b.Questions))
	for _, q := range b.Questions {
		if seen[q.ID] {
			return fmt.Errorf("question %d: %w", q.ID, ErrQuestionDuplicateID)
		}
		seen[q.ID] = true
		if err := q.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SubmittedAnswerSet 题目ID -> 所选选项下标
type SubmittedAnswerSet map[int]int

// StudentQuestion 下发给学生的题目，不含答案
type StudentQuestion struct {
	ID      int      `json:"id"`
	Prompt  string   `json:"question"`
	Options []string `json:"options"`
}
