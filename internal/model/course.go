package model

// Course 课程目录中的一门课程
type Course struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       Money  `json:"price"`
	Category    string `json:"category"`
	Level       string `json:"level"`
	Image       string `json:"image"`
	Duration    string `json:"duration"`
	Lessons     int    `json:"lessons"`
}

// NewEnrollmentRecord 以报名时刻的课程价格生成初始记录
func (c *Course) NewEnrollmentRecord() EnrollmentRecord {
	return EnrollmentRecord{
		CourseID:     c.ID,
		Title:        c.Title,
		Description:  c.Description,
		Category:     c.Category,
		Image:        c.Image,
		Price:        c.Price,
		Progress:     "0%",
		HasTakenTest: false,
	}
}
