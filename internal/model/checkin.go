package model

import "time"

// CheckInMethod 签到来源
type CheckInMethod string

const (
	CheckInMethodManual    CheckInMethod = "manual"
	CheckInMethodEmailLink CheckInMethod = "email_link"
	CheckInMethodSMSLink   CheckInMethod = "sms_link"
	CheckInMethodAPI       CheckInMethod = "api"
)

// CheckInEvent 签到记录，只追加
type CheckInEvent struct {
	BaseModel
	OccurredAt time.Time     `gorm:"type:timestamptz;not null;index:idx_switch_check_ins_switch,priority:2,sort:desc" json:"occurred_at"`
	Method     CheckInMethod `gorm:"type:varchar(32);not null" json:"method"`
	IPAddress  string        `gorm:"type:varchar(64)" json:"ip_address,omitempty"`
	UserAgent  string        `gorm:"type:varchar(512)" json:"user_agent,omitempty"`
	Location   string        `gorm:"type:varchar(255)" json:"location,omitempty"`
	SwitchID   int64         `gorm:"not null;index:idx_switch_check_ins_switch,priority:1" json:"switch_id,string"`
	UserID     int64         `gorm:"not null" json:"user_id,string"`
}

// TableName 指定表名
func (CheckInEvent) TableName() string {
	return "switch_check_ins"
}
