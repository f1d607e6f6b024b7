package model

import (
	"time"
)

// BaseModel 追加型记录（签到、通知、授权）共用，记录从不删除所以没有软删除字段
type BaseModel struct {
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
}
