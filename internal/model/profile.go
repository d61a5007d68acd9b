package model

import "time"

// Profile 学生个人资料
type Profile struct {
	UserID    string    `gorm:"primaryKey;type:varchar(36)" json:"userId"`
	Name      string    `gorm:"size:100" json:"name"`
	Email     string    `gorm:"size:100" json:"email"`
	Phone     string    `gorm:"size:32" json:"phone"`
	Address   string    `gorm:"size:255" json:"address"`
	Bio       string    `gorm:"type:text" json:"bio"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Profile) TableName() string {
	return "profiles"
}
