package service

import (
	"edurefund_backend/internal/model"
	"edurefund_backend/internal/util"
	"edurefund_backend/pkg/logger"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type catalogCourse struct {
	ID          string `mapstructure:"id"`
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description"`
	Price       string `mapstructure:"price"`
	Category    string `mapstructure:"category"`
	Level       string `mapstructure:"level"`
	Image       string `mapstructure:"image"`
	Duration    string `mapstructure:"duration"`
	Lessons     int    `mapstructure:"lessons"`
}

type catalogFile struct {
	Courses       []catalogCourse             `mapstructure:"courses"`
	QuestionBanks map[string][]model.Question `mapstructure:"question_banks"`
}

// Catalog 课程与题库的不可变快照
type Catalog struct {
	courses []model.Course
	byID    map[string]int
	banks   map[string]*model.QuestionBank
}

// NewCatalog 校验课程和题库后构建快照
func NewCatalog(courses []model.Course, banks map[string]*model.QuestionBank) (*Catalog, error) {
	c := &Catalog{
		courses: make([]model.Course, 0, len(courses)),
		byID:    make(map[string]int, len(courses)),
		banks:   make(map[string]*model.QuestionBank, len(banks)),
	}

	for _, course := range courses {
		if course.ID == "" {
			return nil, fmt.Errorf("course %q: missing id", course.Title)
		}
		if _, dup := c.byID[course.ID]; dup {
			return nil, fmt.Errorf("course %s: duplicate id", course.ID)
		}
		if course.Price < 0 {
			return nil, fmt.Errorf("course %s: %w", course.ID, util.ErrInvalidPrice)
		}
		c.byID[course.ID] = len(c.courses)
		c.courses = append(c.courses, course)
	}

	for courseID, bank := range banks {
		if _, ok := c.byID[courseID]; !ok {
			return nil, fmt.Errorf("question bank for unknown course %s", courseID)
		}
		if err := bank.Validate(); err != nil {
			return nil, fmt.Errorf("course %s: %w", courseID, err)
		}
		questions := make([]model.Question, len(bank.Questions))
		copy(questions, bank.Questions)
		c.banks[courseID] = &model.QuestionBank{CourseID: courseID, Questions: questions}
	}
	return c, nil
}

// LoadCatalog 从 YAML 文件加载目录，价格以十进制字符串书写
func LoadCatalog(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var file catalogFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	courses := make([]model.Course, 0, len(file.Courses))
	for _, cc := range file.Courses {
		price, err := model.ParseMoney(cc.Price)
		if err != nil {
			return nil, fmt.Errorf("course %s: %w", cc.ID, err)
		}
		courses = append(courses, model.Course{
			ID:          cc.ID,
			Title:       cc.Title,
			Description: cc.Description,
			Price:       price,
			Category:    cc.Category,
			Level:       cc.Level,
			Image:       cc.Image,
			Duration:    cc.Duration,
			Lessons:     cc.Lessons,
		})
	}

	banks := make(map[string]*model.QuestionBank, len(file.QuestionBanks))
	for courseID, questions := range file.QuestionBanks {
		banks[courseID] = &model.QuestionBank{CourseID: courseID, Questions: questions}
	}
	return NewCatalog(courses, banks)
}

// CatalogService 课程价格和题库的唯一来源，支持整体替换（热加载）
type CatalogService struct {
	current atomic.Pointer[Catalog]
}

func NewCatalogService(catalog *Catalog) *CatalogService {
	s := &CatalogService{}
	s.Replace(catalog)
	return s
}

// Replace 原子替换目录快照
func (s *CatalogService) Replace(catalog *Catalog) {
	if catalog == nil {
		catalog, _ = NewCatalog(nil, nil)
	}
	s.current.Store(catalog)
}

// Reload 重新读取目录文件，失败时保留旧目录
func (s *CatalogService) Reload(path string) error {
	catalog, err := LoadCatalog(path)
	if err != nil {
		return err
	}
	s.Replace(catalog)
	logger.Log.Info("Course catalog loaded",
		zap.Int("courses", len(catalog.courses)),
		zap.Int("questionBanks", len(catalog.banks)))
	return nil
}

func (s *CatalogService) Course(id string) (*model.Course, error) {
	c := s.current.Load()
	i, ok := c.byID[id]
	if !ok {
		return nil, util.ErrCourseNotFound
	}
	course := c.courses[i]
	return &course, nil
}

// Courses 按分类和关键字过滤，参数为空表示不过滤
func (s *CatalogService) Courses(category, keyword string) []model.Course {
	c := s.current.Load()
	keyword = strings.ToLower(strings.TrimSpace(keyword))

	out := make([]model.Course, 0, len(c.courses))
	for _, course := range c.courses {
		if category != "" && !strings.EqualFold(course.Category, category) {
			continue
		}
		if keyword != "" &&
			!strings.Contains(strings.ToLower(course.Title), keyword) &&
			!strings.Contains(strings.ToLower(course.Description), keyword) {
			continue
		}
		out = append(out, course)
	}
	return out
}

func (s *CatalogService) QuestionBank(courseID string) (*model.QuestionBank, error) {
	bank, ok := s.current.Load().banks[courseID]
	if !ok {
		return nil, util.ErrUnknownQuestionBank
	}
	return bank, nil
}

// StudentQuestions 去掉答案后的题目
func (s *CatalogService) StudentQuestions(courseID string) ([]model.StudentQuestion, error) {
	bank, err := s.QuestionBank(courseID)
	if err != nil {
		return nil, err
	}
	out := make([]model.StudentQuestion, len(bank.Questions))
	for i, q := range bank.Questions {
		options := make([]string, len(q.Options))
		copy(options, q.Options)
		out[i] = model.StudentQuestion{ID: q.ID, Prompt: q.Prompt, Options: options}
	}
	return out, nil
}
