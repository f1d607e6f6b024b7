package service

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"DeadManSwitch/internal/directory"
	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/repository"
	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/logger"
)

// ReleaseResult 一次释放的结果
type ReleaseResult struct {
	// Records 本次新写入、需要投递的通知
	Records  []*model.NotificationRecord
	Notified int
	Failed   int
	Heirs    int
}

// ReleaseCoordinator 开关触发后通知已验证的继承人，并记录访问授权意图。
// 密钥释放由下游访问控制服务消费授权记录完成。
type ReleaseCoordinator struct {
	heirs    directory.BeneficiaryDirectory
	users    directory.UserDirectory
	ledger   *Ledger
	composer *Composer
	clock    clockwork.Clock
}

func NewReleaseCoordinator(
	heirs directory.BeneficiaryDirectory,
	users directory.UserDirectory,
	ledger *Ledger,
	composer *Composer,
	clock clockwork.Clock,
) *ReleaseCoordinator {
	return &ReleaseCoordinator{heirs: heirs, users: users, ledger: ledger, composer: composer, clock: clock}
}

// Release 必须在触发事务内调用。列举继承人失败时返回错误，整个触发回滚；
// 单个继承人失败只回滚它自己的 savepoint。
func (r *ReleaseCoordinator) Release(ctx context.Context, tx repository.Store, sw *model.Switch) (ReleaseResult, error) {
	var result ReleaseResult

	if sw.Status != model.SwitchStatusTriggered || sw.TriggeredAt == nil {
		return result, errors.InvalidRequest.WithMessage("release requires a triggered switch")
	}

	heirs, err := r.heirs.ListVerified(ctx, sw.UserID)
	if err != nil {
		return result, fmt.Errorf("list verified heirs: %w", err)
	}
	result.Heirs = len(heirs)

	var ownerEmail string
	if r.users != nil {
		if c, err := r.users.Contact(ctx, sw.UserID); err == nil {
			ownerEmail = c.Email
		}
	}

	window := model.TriggerWindowKey(*sw.TriggeredAt)
	for _, heir := range heirs {
		var rec *model.NotificationRecord
		err := tx.InTx(ctx, func(htx repository.Store) error {
			var err error
			rec, err = r.releaseTo(ctx, htx, sw, heir, window, ownerEmail)
			return err
		})
		if err != nil {
			result.Failed++
			logger.Logger.Error("Failed to release switch to heir",
				zap.Int64("switch_id", sw.ID),
				zap.Int64("heir_id", heir.ID),
				zap.String("kind", errors.KindOf(err).String()),
				zap.Error(err),
			)
			continue
		}
		if rec == nil {
			continue
		}
		if rec.Status == model.NotificationStatusFailed {
			result.Failed++
			logger.Logger.Warn("Heir has no email address, notification marked failed",
				zap.Int64("switch_id", sw.ID),
				zap.Int64("heir_id", heir.ID),
			)
			continue
		}
		result.Notified++
		result.Records = append(result.Records, rec)
	}

	logger.Logger.Info("Switch released to heirs",
		zap.Int64("switch_id", sw.ID),
		zap.Int("heirs", result.Heirs),
		zap.Int("notified", result.Notified),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// releaseTo 返回 nil 表示该继承人已经通知过
func (r *ReleaseCoordinator) releaseTo(
	ctx context.Context,
	tx repository.Store,
	sw *model.Switch,
	heir directory.Beneficiary,
	window, ownerEmail string,
) (*model.NotificationRecord, error) {
	grant := &model.AccessGrant{
		SwitchID:  sw.ID,
		UserID:    sw.UserID,
		HeirID:    heir.ID,
		GrantedAt: r.clock.Now(),
		Status:    model.AccessGrantStatusPending,
	}
	if _, err := tx.InsertAccessGrant(ctx, grant); err != nil {
		return nil, err
	}

	subject, body := r.composer.SwitchTriggered(sw, heir.FullName, ownerEmail)
	rec, _, err := r.ledger.Record(ctx, tx, Entry{
		Switch:        sw,
		Type:          model.NotificationTypeSwitchTriggered,
		WindowKey:     window,
		Channel:       model.NotificationChannelEmail,
		RecipientKind: model.RecipientKindHeir,
		HeirID:        heir.ID,
		Recipient:     heir.Email,
		Subject:       subject,
		Body:          body,
	})
	return rec, err
}
