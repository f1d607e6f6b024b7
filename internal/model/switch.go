package model

import (
	"sort"
	"time"

	"gorm.io/datatypes"
)

// SwitchStatus 开关生命周期状态：active -> grace_period -> triggered
type SwitchStatus string

const (
	SwitchStatusActive      SwitchStatus = "active"
	SwitchStatusGracePeriod SwitchStatus = "grace_period"
	SwitchStatusTriggered   SwitchStatus = "triggered" // 终态
)

func (s SwitchStatus) Valid() bool {
	switch s {
	case SwitchStatusActive, SwitchStatusGracePeriod, SwitchStatusTriggered:
		return true
	}
	return false
}

func (s SwitchStatus) IsTerminal() bool {
	return s == SwitchStatusTriggered
}

// NotificationChannel 通知渠道枚举
type NotificationChannel string

const (
	NotificationChannelEmail     NotificationChannel = "email"
	NotificationChannelSMS       NotificationChannel = "sms"
	NotificationChannelPush      NotificationChannel = "push"
	NotificationChannelPhoneCall NotificationChannel = "phone_call"
)

func (c NotificationChannel) Valid() bool {
	switch c {
	case NotificationChannelEmail, NotificationChannelSMS, NotificationChannelPush, NotificationChannelPhoneCall:
		return true
	}
	return false
}

const (
	DefaultCheckInIntervalDays = 90
	DefaultGracePeriodDays     = 14

	Day = 24 * time.Hour
)

var (
	DefaultReminderDays         = []int{7, 3, 1}
	DefaultNotificationChannels = []NotificationChannel{NotificationChannelEmail}
)

// Switch 每个用户唯一的死人开关
type Switch struct {
	CreatedAt            time.Time                                `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt            time.Time                                `gorm:"not null;default:now()" json:"updated_at"`
	LastCheckInAt        time.Time                                `gorm:"type:timestamptz;not null" json:"last_check_in_at"`
	NextCheckInDueDate   time.Time                                `gorm:"type:timestamptz;not null" json:"next_check_in_due_date"`
	GracePeriodStartedAt *time.Time                               `gorm:"type:timestamptz" json:"grace_period_started_at,omitempty"`
	TriggeredAt          *time.Time                               `gorm:"type:timestamptz" json:"triggered_at,omitempty"`
	ReminderDays         datatypes.JSONSlice[int]                 `gorm:"type:jsonb;not null" json:"reminder_days"`
	NotificationChannels datatypes.JSONSlice[NotificationChannel] `gorm:"type:jsonb;not null" json:"notification_channels"`
	Status               SwitchStatus                             `gorm:"type:varchar(16);not null;index:idx_switches_sweep,priority:2" json:"status"`
	EmergencyEmail       string                                   `gorm:"type:varchar(255)" json:"emergency_email,omitempty"`
	EmergencyPhone       string                                   `gorm:"type:varchar(32)" json:"emergency_phone,omitempty"`
	ID                   int64                                    `gorm:"primaryKey;autoIncrement:false;index:idx_switches_sweep,priority:3" json:"id,string"`
	UserID               int64                                    `gorm:"not null;uniqueIndex:uk_switches_user" json:"user_id,string"`
	Version              int64                                    `gorm:"not null" json:"version"`
	CheckInIntervalDays  int                                      `gorm:"not null" json:"check_in_interval_days"`
	GracePeriodDays      int                                      `gorm:"not null" json:"grace_period_days"`
	IsActive             bool                                     `gorm:"not null;index:idx_switches_sweep,priority:1" json:"is_active"`
}

// TableName 指定表名
func (Switch) TableName() string {
	return "switches"
}

// Interval 签到周期
func (s *Switch) Interval() time.Duration {
	return time.Duration(s.CheckInIntervalDays) * Day
}

// GraceEndsAt 宽限期结束时间，不在宽限期内返回 false
func (s *Switch) GraceEndsAt() (time.Time, bool) {
	if s.GracePeriodStartedAt == nil {
		return time.Time{}, false
	}
	return s.GracePeriodStartedAt.Add(time.Duration(s.GracePeriodDays) * Day), true
}

// IsOverdue now 严格晚于截止时间才算逾期
func (s *Switch) IsOverdue(now time.Time) bool {
	return now.After(s.NextCheckInDueDate)
}

// ReminderEligible 距截止不超过 d 天且尚未逾期
func (s *Switch) ReminderEligible(now time.Time, d int) bool {
	if !now.Before(s.NextCheckInDueDate) {
		return false
	}
	return s.NextCheckInDueDate.Sub(now) <= time.Duration(d)*Day
}

// ReminderWindowStart 同一截止周期内提醒去重的起点：due - (d+1) 天
func (s *Switch) ReminderWindowStart(d int) time.Time {
	return s.NextCheckInDueDate.Add(-time.Duration(d+1) * Day)
}

// GraceExpired now >= 宽限期结束
func (s *Switch) GraceExpired(now time.Time) bool {
	end, ok := s.GraceEndsAt()
	return ok && !now.Before(end)
}

// ReminderOffsets 去重、去掉非正数、按天数降序
func (s *Switch) ReminderOffsets() []int {
	return NormalizeReminderDays(s.ReminderDays)
}

// Channels 返回去重后的渠道，保持配置顺序
func (s *Switch) Channels() []NotificationChannel {
	return NormalizeChannels(s.NotificationChannels)
}

// ResetCycle 记录一次签到，宽限期中的开关回到 active
func (s *Switch) ResetCycle(now time.Time) {
	s.LastCheckInAt = now
	s.NextCheckInDueDate = now.Add(s.Interval())
	if s.Status == SwitchStatusGracePeriod {
		s.Status = SwitchStatusActive
		s.GracePeriodStartedAt = nil
	}
}

// EnterGracePeriod active -> grace_period
func (s *Switch) EnterGracePeriod(now time.Time) {
	s.Status = SwitchStatusGracePeriod
	started := now
	s.GracePeriodStartedAt = &started
}

// Trigger grace_period -> triggered
func (s *Switch) Trigger(now time.Time) {
	s.Status = SwitchStatusTriggered
	triggered := now
	s.TriggeredAt = &triggered
}

// Clone 深拷贝，内存存储和测试用
func (s *Switch) Clone() *Switch {
	if s == nil {
		return nil
	}
	c := *s
	if s.GracePeriodStartedAt != nil {
		t := *s.GracePeriodStartedAt
		c.GracePeriodStartedAt = &t
	}
	if s.TriggeredAt != nil {
		t := *s.TriggeredAt
		c.TriggeredAt = &t
	}
	c.ReminderDays = append(datatypes.JSONSlice[int](nil), s.ReminderDays...)
	c.NotificationChannels = append(datatypes.JSONSlice[NotificationChannel](nil), s.NotificationChannels...)
	return &c
}

func NormalizeReminderDays(days []int) []int {
	seen := make(map[int]struct{}, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d <= 0 {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

func NormalizeChannels(channels []NotificationChannel) []NotificationChannel {
	seen := make(map[NotificationChannel]struct{}, len(channels))
	out := make([]NotificationChannel, 0, len(channels))
	for _, c := range channels {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
