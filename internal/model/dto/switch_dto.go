package dto

import "time"

// ========== Switch 相关 DTO ==========

// SetupSwitchRequest 创建开关，未填写的字段使用默认值
type SetupSwitchRequest struct {
	CheckInIntervalDays  *int     `json:"check_in_interval_days"`
	GracePeriodDays      *int     `json:"grace_period_days"`
	ReminderDays         []int    `json:"reminder_days"`
	NotificationChannels []string `json:"notification_channels"`
	EmergencyEmail       string   `json:"emergency_email"`
	EmergencyPhone       string   `json:"emergency_phone"`
}

// UpdateSwitchRequest 部分更新，nil 表示不修改
type UpdateSwitchRequest struct {
	CheckInIntervalDays  *int      `json:"check_in_interval_days"`
	GracePeriodDays      *int      `json:"grace_period_days"`
	EmergencyEmail       *string   `json:"emergency_email"`
	EmergencyPhone       *string   `json:"emergency_phone"`
	ReminderDays         *[]int    `json:"reminder_days"`
	NotificationChannels *[]string `json:"notification_channels"`
}

// SwitchResponse 开关详情
type SwitchResponse struct {
	LastCheckInAt        time.Time  `json:"last_check_in_at"`
	NextCheckInDueDate   time.Time  `json:"next_check_in_due_date"`
	GracePeriodStartedAt *time.Time `json:"grace_period_started_at,omitempty"`
	GracePeriodEndsAt    *time.Time `json:"grace_period_ends_at,omitempty"`
	TriggeredAt          *time.Time `json:"triggered_at,omitempty"`
	ID                   string     `json:"id"`
	Status               string     `json:"status"`
	EmergencyEmail       string     `json:"emergency_email,omitempty"`
	EmergencyPhone       string     `json:"emergency_phone,omitempty"`
	ReminderDays         []int      `json:"reminder_days"`
	NotificationChannels []string   `json:"notification_channels"`
	CheckInIntervalDays  int        `json:"check_in_interval_days"`
	GracePeriodDays      int        `json:"grace_period_days"`
	IsActive             bool       `json:"is_active"`
}

// CheckInRequest 签到请求，body 可以为空
type CheckInRequest struct {
	Location string `json:"location"`
}

// CheckInResponse 签到结果
type CheckInResponse struct {
	CheckInAt          time.Time `json:"check_in_at"`
	NextCheckInDueDate time.Time `json:"next_check_in_due_date"`
	DaysUntilNext      int       `json:"days_until_next"`
}

// CancelSwitchResponse 取消结果，重复取消返回 cancelled=false
type CancelSwitchResponse struct {
	Cancelled bool `json:"cancelled"`
}

// SwitchHistoryQuery 历史查询参数
type SwitchHistoryQuery struct {
	Limit int `query:"limit"`
}

// CheckInEventItem 签到记录
type CheckInEventItem struct {
	OccurredAt time.Time `json:"occurred_at"`
	Method     string    `json:"method"`
	IPAddress  string    `json:"ip_address,omitempty"`
}

// NotificationItem 通知记录
type NotificationItem struct {
	SentAt           time.Time  `json:"sent_at"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	NotificationType string     `json:"notification_type"`
	Channel          string     `json:"channel"`
	RecipientKind    string     `json:"recipient_kind"`
	Status           string     `json:"status"`
	Subject          string     `json:"subject"`
}

// SwitchHistoryResponse 签到与通知历史
type SwitchHistoryResponse struct {
	CheckIns      []CheckInEventItem `json:"check_ins"`
	Notifications []NotificationItem `json:"notifications"`
}
