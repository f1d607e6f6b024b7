package model

import "gorm.io/gorm"

// User 用户表只读视图，由账户服务维护
type User struct {
	DeletedAt gorm.DeletedAt `gorm:"index"`
	Email     string         `gorm:"type:varchar(255)"`
	Phone     string         `gorm:"type:varchar(32)"`
	FullName  string         `gorm:"type:varchar(128)"`
	ID        int64          `gorm:"primaryKey"`
}

func (User) TableName() string {
	return "users"
}

// Heir 继承人只读视图
type Heir struct {
	Email      string `gorm:"type:varchar(255)"`
	Phone      string `gorm:"type:varchar(32)"`
	FullName   string `gorm:"type:varchar(128)"`
	ID         int64  `gorm:"primaryKey"`
	UserID     int64  `gorm:"not null;index"`
	IsVerified bool   `gorm:"not null"`
	IsDeleted  bool   `gorm:"not null"`
}

func (Heir) TableName() string {
	return "heirs"
}
