package directory

import (
	"context"
	stderrors "errors"
	"fmt"

	"gorm.io/gorm"

	"DeadManSwitch/internal/model"
	"DeadManSwitch/pkg/errors"
)

// GormDirectory 读取 users / heirs 表
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

var (
	_ UserDirectory        = (*GormDirectory)(nil)
	_ BeneficiaryDirectory = (*GormDirectory)(nil)
)

func (d *GormDirectory) Exists(ctx context.Context, userID int64) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check user exists: %w: %w", errors.StorageTransient, err)
	}
	return count > 0, nil
}

func (d *GormDirectory) Contact(ctx context.Context, userID int64) (Contact, error) {
	var u model.User
	if err := d.db.WithContext(ctx).Where("id = ?", userID).First(&u).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return Contact{}, errors.ErrUserNotFound
		}
		return Contact{}, fmt.Errorf("load user contact: %w: %w", errors.StorageTransient, err)
	}
	return Contact{Email: u.Email, Phone: u.Phone, FullName: u.FullName}, nil
}

func (d *GormDirectory) ListVerified(ctx context.Context, userID int64) ([]Beneficiary, error) {
	var heirs []model.Heir
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND is_verified = ? AND is_deleted = ?", userID, true, false).
		Order("id ASC").
		Find(&heirs).Error
	if err != nil {
		return nil, fmt.Errorf("list verified heirs: %w: %w", errors.StorageTransient, err)
	}

	out := make([]Beneficiary, 0, len(heirs))
	for _, h := range heirs {
		out = append(out, Beneficiary{
			ID:      h.ID,
			Contact: Contact{Email: h.Email, Phone: h.Phone, FullName: h.FullName},
		})
	}
	return out, nil
}
