package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NotificationType 通知类型，提醒按天数区分：Reminder_7Days
type NotificationType string

const (
	NotificationTypeOverdue         NotificationType = "Overdue"
	NotificationTypeSwitchTriggered NotificationType = "SwitchTriggered"

	reminderPrefix = "Reminder_"
	reminderSuffix = "Days"
)

// ReminderType 提前 d 天的提醒类型
func ReminderType(d int) NotificationType {
	return NotificationType(fmt.Sprintf("%s%d%s", reminderPrefix, d, reminderSuffix))
}

// ReminderDaysOf 解析提醒类型中的天数
func (t NotificationType) ReminderDaysOf() (int, bool) {
	s := string(t)
	if !strings.HasPrefix(s, reminderPrefix) || !strings.HasSuffix(s, reminderSuffix) {
		return 0, false
	}
	d, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(s, reminderPrefix), reminderSuffix))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// NotificationStatus 投递状态，只有投递相关字段会被更新
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"   // 已记录，未入队
	NotificationStatusQueued    NotificationStatus = "queued"    // 已投递到 MQ
	NotificationStatusDelivered NotificationStatus = "delivered" // 渠道确认
	NotificationStatusFailed    NotificationStatus = "failed"    // 超过重试次数或不可重试
)

// RecipientKind 收件人类别
type RecipientKind string

const (
	RecipientKindOwner RecipientKind = "owner"
	RecipientKindHeir  RecipientKind = "heir"
)

// NotificationRecord 通知台账 + outbox。
// 唯一索引覆盖 (switch, type, window, recipient_kind, heir, channel)，
// 插入冲突即视为已发送。
type NotificationRecord struct {
	BaseModel
	SentAt               time.Time           `gorm:"type:timestamptz;not null;index:idx_switch_notifications_sent,priority:3" json:"sent_at"`
	DeliveredAt          *time.Time          `gorm:"type:timestamptz" json:"delivered_at,omitempty"`
	CheckInLinkExpiresAt *time.Time          `gorm:"type:timestamptz" json:"check_in_link_expires_at,omitempty"`
	ClickedAt            *time.Time          `gorm:"type:timestamptz" json:"clicked_at,omitempty"`
	NotificationType     NotificationType    `gorm:"type:varchar(32);not null;uniqueIndex:uk_switch_notification_window,priority:2;index:idx_switch_notifications_sent,priority:2" json:"notification_type"`
	WindowKey            string              `gorm:"type:varchar(64);not null;uniqueIndex:uk_switch_notification_window,priority:3" json:"window_key"`
	RecipientKind        RecipientKind       `gorm:"type:varchar(16);not null;uniqueIndex:uk_switch_notification_window,priority:4" json:"recipient_kind"`
	Channel              NotificationChannel `gorm:"type:varchar(16);not null;uniqueIndex:uk_switch_notification_window,priority:6" json:"channel"`
	Recipient            string              `gorm:"type:varchar(255)" json:"recipient"`
	Status               NotificationStatus  `gorm:"type:varchar(16);not null;index:idx_switch_notifications_status" json:"status"`
	Subject              string              `gorm:"type:varchar(255);not null" json:"subject"`
	Body                 string              `gorm:"type:text;not null" json:"body"`
	DeliveryID           string              `gorm:"type:varchar(128)" json:"delivery_id,omitempty"`
	FailureReason        string              `gorm:"type:varchar(512)" json:"failure_reason,omitempty"`
	CheckInLinkToken     string              `gorm:"type:varchar(64);index:idx_switch_notifications_link" json:"-"`
	SwitchID             int64               `gorm:"not null;uniqueIndex:uk_switch_notification_window,priority:1;index:idx_switch_notifications_sent,priority:1" json:"switch_id,string"`
	UserID               int64               `gorm:"not null" json:"user_id,string"`
	HeirID               int64               `gorm:"not null;default:0;uniqueIndex:uk_switch_notification_window,priority:5" json:"heir_id,omitempty,string"`
	Attempts             int                 `gorm:"type:smallint;not null;default:0" json:"attempts"`
}

// TableName 指定表名
func (NotificationRecord) TableName() string {
	return "switch_notifications"
}

// DueWindowKey 提醒和逾期通知以截止时间划分周期
func DueWindowKey(due time.Time) string {
	return "due:" + strconv.FormatInt(due.UTC().Unix(), 10)
}

// TriggerWindowKey 触发通知以触发时间划分
func TriggerWindowKey(triggeredAt time.Time) string {
	return "trigger:" + strconv.FormatInt(triggeredAt.UTC().Unix(), 10)
}

// NotificationDeliveryPatch 投递状态变更
type NotificationDeliveryPatch struct {
	DeliveredAt   *time.Time
	ClickedAt     *time.Time
	Status        NotificationStatus
	// FromStatus 非空时只在当前状态匹配时更新
	FromStatus    NotificationStatus
	DeliveryID    string
	FailureReason string
	// AttemptsDelta 累加到 attempts
	AttemptsDelta int
}

// NotificationQuery HasSent 查询条件
type NotificationQuery struct {
	Since         time.Time
	Type          NotificationType
	RecipientKind RecipientKind
	SwitchID      int64
	HeirID        int64
}
