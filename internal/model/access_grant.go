package model

import "time"

// AccessGrantStatus 授权状态，由下游访问控制服务推进
type AccessGrantStatus string

const (
	AccessGrantStatusPending AccessGrantStatus = "pending"
	AccessGrantStatusGranted AccessGrantStatus = "granted"
)

// AccessGrant 开关触发后给继承人的访问授权意图，本服务只写入 pending
type AccessGrant struct {
	BaseModel
	GrantedAt time.Time         `gorm:"type:timestamptz;not null" json:"granted_at"`
	Status    AccessGrantStatus `gorm:"type:varchar(16);not null" json:"status"`
	SwitchID  int64             `gorm:"not null;uniqueIndex:uk_switch_access_grants,priority:1" json:"switch_id,string"`
	HeirID    int64             `gorm:"not null;uniqueIndex:uk_switch_access_grants,priority:2" json:"heir_id,string"`
	UserID    int64             `gorm:"not null" json:"user_id,string"`
}

// TableName 指定表名
func (AccessGrant) TableName() string {
	return "switch_access_grants"
}
