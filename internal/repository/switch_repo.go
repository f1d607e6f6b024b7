package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"DeadManSwitch/internal/model"
	"DeadManSwitch/pkg/errors"
)

// GormStore PostgreSQL 实现
type GormStore struct {
	db   *gorm.DB
	inTx bool
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var _ Store = (*GormStore)(nil)

// storageErr 保留原始错误，同时标记为可重试的存储错误
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, errors.StorageTransient, err)
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *GormStore) CreateSwitch(ctx context.Context, sw *model.Switch) error {
	if err := s.conn(ctx).Create(sw).Error; err != nil {
		if stderrors.Is(err, gorm.ErrDuplicatedKey) {
			return errors.SwitchAlreadyExists
		}
		return storageErr("create switch", err)
	}
	return nil
}

func (s *GormStore) GetSwitchByUser(ctx context.Context, userID int64) (*model.Switch, error) {
	return s.firstSwitch(s.conn(ctx).Where("user_id = ?", userID), "get switch by user")
}

func (s *GormStore) GetSwitchByUserForUpdate(ctx context.Context, userID int64) (*model.Switch, error) {
	return s.firstSwitch(s.locking(ctx).Where("user_id = ?", userID), "lock switch by user")
}

func (s *GormStore) GetSwitchForUpdate(ctx context.Context, id int64) (*model.Switch, error) {
	return s.firstSwitch(s.locking(ctx).Where("id = ?", id), "lock switch")
}

// locking 只有在事务里 FOR UPDATE 才有意义
func (s *GormStore) locking(ctx context.Context) *gorm.DB {
	q := s.conn(ctx)
	if s.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func (s *GormStore) firstSwitch(q *gorm.DB, op string) (*model.Switch, error) {
	var sw model.Switch
	if err := q.First(&sw).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.SwitchNotFound
		}
		return nil, storageErr(op, err)
	}
	return &sw, nil
}

// UpdateSwitch 条件写：WHERE id = ? AND version = ?，0 行即版本冲突
func (s *GormStore) UpdateSwitch(ctx context.Context, sw *model.Switch) error {
	res := s.conn(ctx).Model(&model.Switch{}).
		Where("id = ? AND version = ?", sw.ID, sw.Version).
		Updates(map[string]interface{}{
			"check_in_interval_days":  sw.CheckInIntervalDays,
			"grace_period_days":       sw.GracePeriodDays,
			"is_active":               sw.IsActive,
			"last_check_in_at":        sw.LastCheckInAt,
			"next_check_in_due_date":  sw.NextCheckInDueDate,
			"status":                  sw.Status,
			"grace_period_started_at": sw.GracePeriodStartedAt,
			"triggered_at":            sw.TriggeredAt,
			"reminder_days":           sw.ReminderDays,
			"notification_channels":   sw.NotificationChannels,
			"emergency_email":         sw.EmergencyEmail,
			"emergency_phone":         sw.EmergencyPhone,
			"version":                 sw.Version + 1,
			"updated_at":              sw.UpdatedAt,
		})
	if res.Error != nil {
		return storageErr("update switch", res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.SwitchVersionConflict
	}
	sw.Version++
	return nil
}

func (s *GormStore) ListCandidates(ctx context.Context, filter CandidateFilter) ([]model.Switch, error) {
	var switches []model.Switch
	err := s.conn(ctx).
		Where("is_active = ? AND status = ? AND id > ?", true, filter.Status, filter.AfterID).
		Order("id ASC").
		Limit(ClampLimit(filter.Limit)).
		Find(&switches).Error
	if err != nil {
		return nil, storageErr("list candidates", err)
	}
	return switches, nil
}

func (s *GormStore) AppendCheckIn(ctx context.Context, ev *model.CheckInEvent) error {
	if err := s.conn(ctx).Create(ev).Error; err != nil {
		return storageErr("append check-in", err)
	}
	return nil
}

func (s *GormStore) ListCheckIns(ctx context.Context, switchID int64, limit int) ([]model.CheckInEvent, error) {
	var events []model.CheckInEvent
	err := s.conn(ctx).
		Where("switch_id = ?", switchID).
		Order("occurred_at DESC, id DESC").
		Limit(ClampLimit(limit)).
		Find(&events).Error
	if err != nil {
		return nil, storageErr("list check-ins", err)
	}
	return events, nil
}

func (s *GormStore) InsertNotification(ctx context.Context, rec *model.NotificationRecord) (bool, error) {
	res := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return false, storageErr("insert notification", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) HasNotification(ctx context.Context, q model.NotificationQuery) (bool, error) {
	query := s.conn(ctx).Model(&model.NotificationRecord{}).
		Where("switch_id = ? AND notification_type = ? AND sent_at > ?", q.SwitchID, q.Type, q.Since)
	if q.RecipientKind != "" {
		query = query.Where("recipient_kind = ?", q.RecipientKind)
	}
	if q.HeirID != 0 {
		query = query.Where("heir_id = ?", q.HeirID)
	}

	var count int64
	if err := query.Limit(1).Count(&count).Error; err != nil {
		return false, storageErr("query notification ledger", err)
	}
	return count > 0, nil
}

func (s *GormStore) GetNotification(ctx context.Context, id int64) (*model.NotificationRecord, error) {
	return s.firstNotification(s.conn(ctx).Where("id = ?", id), "get notification")
}

func (s *GormStore) FindNotificationByLinkToken(ctx context.Context, token string) (*model.NotificationRecord, error) {
	if token == "" {
		return nil, errors.NotificationNotFound
	}
	return s.firstNotification(s.conn(ctx).Where("check_in_link_token = ?", token), "find notification by link")
}

func (s *GormStore) firstNotification(q *gorm.DB, op string) (*model.NotificationRecord, error) {
	var rec model.NotificationRecord
	if err := q.First(&rec).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotificationNotFound
		}
		return nil, storageErr(op, err)
	}
	return &rec, nil
}

func (s *GormStore) ListNotifications(ctx context.Context, switchID int64, limit int) ([]model.NotificationRecord, error) {
	var records []model.NotificationRecord
	err := s.conn(ctx).
		Where("switch_id = ?", switchID).
		Order("sent_at DESC, id DESC").
		Limit(ClampLimit(limit)).
		Find(&records).Error
	if err != nil {
		return nil, storageErr("list notifications", err)
	}
	return records, nil
}

func (s *GormStore) ListPendingNotifications(ctx context.Context, createdBefore time.Time, limit int) ([]model.NotificationRecord, error) {
	var records []model.NotificationRecord
	err := s.conn(ctx).
		Where("status = ? AND created_at < ?", model.NotificationStatusPending, createdBefore).
		Order("id ASC").
		Limit(ClampLimit(limit)).
		Find(&records).Error
	if err != nil {
		return nil, storageErr("list pending notifications", err)
	}
	return records, nil
}

func (s *GormStore) UpdateNotificationDelivery(ctx context.Context, id int64, patch model.NotificationDeliveryPatch) (bool, error) {
	updates := map[string]interface{}{}
	if patch.Status != "" {
		updates["status"] = patch.Status
	}
	if patch.DeliveryID != "" {
		updates["delivery_id"] = patch.DeliveryID
	}
	if patch.DeliveredAt != nil {
		updates["delivered_at"] = patch.DeliveredAt
	}
	if patch.ClickedAt != nil {
		updates["clicked_at"] = patch.ClickedAt
	}
	if patch.FailureReason != "" {
		updates["failure_reason"] = truncate(patch.FailureReason, 512)
	}
	if patch.AttemptsDelta != 0 {
		updates["attempts"] = gorm.Expr("attempts + ?", patch.AttemptsDelta)
	}
	if len(updates) == 0 {
		return false, nil
	}

	q := s.conn(ctx).Model(&model.NotificationRecord{}).Where("id = ?", id)
	if patch.FromStatus != "" {
		q = q.Where("status = ?", patch.FromStatus)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, storageErr("update notification delivery", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) InsertAccessGrant(ctx context.Context, grant *model.AccessGrant) (bool, error) {
	res := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(grant)
	if res.Error != nil {
		return false, storageErr("insert access grant", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) ListAccessGrants(ctx context.Context, switchID int64) ([]model.AccessGrant, error) {
	var grants []model.AccessGrant
	if err := s.conn(ctx).Where("switch_id = ?", switchID).Order("id ASC").Find(&grants).Error; err != nil {
		return nil, storageErr("list access grants", err)
	}
	return grants, nil
}

// InTx 外层开启事务，内层 gorm 自动使用 SAVEPOINT
func (s *GormStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true})
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
