package repository

import (
	"context"
	"time"

	"DeadManSwitch/internal/model"
)

// CandidateFilter 扫描分页条件，按 id 做 keyset 翻页，只返回 is_active 的开关
type CandidateFilter struct {
	Status  model.SwitchStatus
	AfterID int64
	Limit   int
}

// Store 开关聚合的持久化边界。
// 同一个开关的字段变更和它的签到、通知记录必须在一次 InTx 中提交。
type Store interface {
	CreateSwitch(ctx context.Context, sw *model.Switch) error
	GetSwitchByUser(ctx context.Context, userID int64) (*model.Switch, error)
	// 以下两个读取在事务中会加行锁
	GetSwitchByUserForUpdate(ctx context.Context, userID int64) (*model.Switch, error)
	GetSwitchForUpdate(ctx context.Context, id int64) (*model.Switch, error)
	// UpdateSwitch 带版本号的条件更新，成功后 sw.Version 自增
	UpdateSwitch(ctx context.Context, sw *model.Switch) error
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]model.Switch, error)

	AppendCheckIn(ctx context.Context, ev *model.CheckInEvent) error
	ListCheckIns(ctx context.Context, switchID int64, limit int) ([]model.CheckInEvent, error)

	// InsertNotification 唯一索引冲突返回 (false, nil)
	InsertNotification(ctx context.Context, rec *model.NotificationRecord) (bool, error)
	HasNotification(ctx context.Context, q model.NotificationQuery) (bool, error)
	GetNotification(ctx context.Context, id int64) (*model.NotificationRecord, error)
	FindNotificationByLinkToken(ctx context.Context, token string) (*model.NotificationRecord, error)
	ListNotifications(ctx context.Context, switchID int64, limit int) ([]model.NotificationRecord, error)
	ListPendingNotifications(ctx context.Context, createdBefore time.Time, limit int) ([]model.NotificationRecord, error)
	// UpdateNotificationDelivery 没有匹配的行（不存在或 FromStatus 不符）返回 false
	UpdateNotificationDelivery(ctx context.Context, id int64, patch model.NotificationDeliveryPatch) (bool, error)

	InsertAccessGrant(ctx context.Context, grant *model.AccessGrant) (bool, error)
	ListAccessGrants(ctx context.Context, switchID int64) ([]model.AccessGrant, error)

	// InTx 嵌套调用使用 savepoint，内层失败只回滚内层
	InTx(ctx context.Context, fn func(tx Store) error) error
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ClampLimit 列表查询的条数限制
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
