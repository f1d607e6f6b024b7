package schedule

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/repository"
	"DeadManSwitch/internal/service"
	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/logger"
	"DeadManSwitch/pkg/metrics"
)

const (
	SweepReminders    = "reminders"
	SweepGracePeriods = "grace_periods"

	// lockMargin 锁比单次扫描时长上限多保留一段时间
	lockMargin = 5 * time.Minute
)

// Locker 扫描级别的分布式锁
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, owner string) error
}

// CursorStore 持久化 keyset 游标
type CursorStore interface {
	Load(ctx context.Context, sweep string) (int64, error)
	Save(ctx context.Context, sweep string, afterID int64) error
	Clear(ctx context.Context, sweep string) error
}

type Options struct {
	WorkerPoolSize   int
	BatchSize        int
	MaxSweepDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.WorkerPoolSize <= 0 {
		o.WorkerPoolSize = 8
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 200
	}
	if o.MaxSweepDuration <= 0 {
		o.MaxSweepDuration = 10 * time.Minute
	}
	return o
}

// SweepResult 一次扫描的统计
type SweepResult struct {
	Scanned   int
	Reminders int
	Escalated int
	Triggered int
	Released  int
	Failed    int
	// Resumed 从上一次中断的游标继续
	Resumed bool
	// Completed 扫到了最后一页；false 表示被时长上限或 ctx 打断，游标已保存
	Completed bool
}

// outcome 单个开关的处理结果，合并进 SweepResult
type outcome struct {
	reminders int
	escalated int
	triggered int
	released  int
}

// Reconciler 周期性对账：A 扫描发送提醒并进入宽限期，B 扫描触发并释放。
// 每个开关在独立事务中处理，单个失败不影响其他开关。
type Reconciler struct {
	store      repository.Store
	ledger     *service.Ledger
	owners     *service.OwnerNotifier
	composer   *service.Composer
	release    *service.ReleaseCoordinator
	dispatcher *service.Dispatcher
	clock      clockwork.Clock
	locker     Locker
	cursor     CursorStore
	opts       Options
}

func NewReconciler(
	store repository.Store,
	ledger *service.Ledger,
	owners *service.OwnerNotifier,
	composer *service.Composer,
	release *service.ReleaseCoordinator,
	dispatcher *service.Dispatcher,
	clock clockwork.Clock,
	opts Options,
) *Reconciler {
	return &Reconciler{
		store:      store,
		ledger:     ledger,
		owners:     owners,
		composer:   composer,
		release:    release,
		dispatcher: dispatcher,
		clock:      clock,
		opts:       opts.withDefaults(),
	}
}

// WithCoordination 多实例部署时挂上 Redis 锁和游标，nil 表示不启用
func (r *Reconciler) WithCoordination(locker Locker, cursor CursorStore) *Reconciler {
	r.locker = locker
	r.cursor = cursor
	return r
}

// SweepReminders 提醒扫描：active 开关发送到期提醒，逾期的进入宽限期
func (r *Reconciler) SweepReminders(ctx context.Context) (SweepResult, error) {
	return r.sweep(ctx, SweepReminders, model.SwitchStatusActive, r.remind)
}

// SweepGracePeriods 宽限期扫描：宽限期结束的开关触发并释放给继承人
func (r *Reconciler) SweepGracePeriods(ctx context.Context) (SweepResult, error) {
	return r.sweep(ctx, SweepGracePeriods, model.SwitchStatusGracePeriod, r.trigger)
}

func (r *Reconciler) sweep(
	ctx context.Context,
	name string,
	status model.SwitchStatus,
	process func(ctx context.Context, id int64) (outcome, error),
) (SweepResult, error) {
	var result SweepResult
	start := r.clock.Now()
	log := logger.Logger.With(zap.String("sweep", name))

	owner, proceed := r.acquire(ctx, name, log)
	if !proceed {
		log.Info("Sweep is running on another instance, skipping")
		return result, nil
	}
	if owner != "" {
		defer r.unlock(ctx, name, owner, log)
	}

	afterID := r.loadCursor(ctx, name, log)
	result.Resumed = afterID > 0
	deadline := start.Add(r.opts.MaxSweepDuration)

	var sweepErr error
	for {
		if ctx.Err() != nil || !r.clock.Now().Before(deadline) {
			break
		}

		page, err := r.store.ListCandidates(ctx, repository.CandidateFilter{
			Status:  status,
			AfterID: afterID,
			Limit:   r.opts.BatchSize,
		})
		if err != nil {
			sweepErr = err
			break
		}
		if len(page) == 0 {
			result.Completed = true
			break
		}

		r.processPage(ctx, page, process, &result, log)
		afterID = page[len(page)-1].ID

		if len(page) < r.opts.BatchSize {
			result.Completed = true
			break
		}
	}

	r.storeCursor(ctx, name, afterID, result.Completed, log)

	elapsed := r.clock.Since(start)
	metrics.RecordSweep(ctx, name, elapsed.Seconds(), result.Scanned, result.Failed, result.Completed)
	log.Info("Sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("reminders", result.Reminders),
		zap.Int("escalated", result.Escalated),
		zap.Int("triggered", result.Triggered),
		zap.Int("released", result.Released),
		zap.Int("failed", result.Failed),
		zap.Bool("resumed", result.Resumed),
		zap.Bool("completed", result.Completed),
		zap.Duration("elapsed", elapsed),
	)

	return result, sweepErr
}

// processPage 有界并发处理一页。单个开关的事务在脱离扫描 deadline 的 ctx 上执行，
// 已开始的开关不会被中途打断。
func (r *Reconciler) processPage(
	ctx context.Context,
	page []model.Switch,
	process func(ctx context.Context, id int64) (outcome, error),
	result *SweepResult,
	log *zap.Logger,
) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.opts.WorkerPoolSize)
	detached := context.WithoutCancel(ctx)

	for i := range page {
		id := page[i].ID
		g.Go(func() error {
			out, err := process(detached, id)

			mu.Lock()
			defer mu.Unlock()
			result.Scanned++
			if err != nil {
				result.Failed++
				log.Error("Failed to reconcile switch",
					zap.Int64("switch_id", id),
					zap.String("kind", errors.KindOf(err).String()),
					zap.Error(err),
				)
				return nil
			}
			result.Reminders += out.reminders
			result.Escalated += out.escalated
			result.Triggered += out.triggered
			result.Released += out.released
			return nil
		})
	}
	_ = g.Wait()
}

// remind 在行锁下重新检查状态，按天数降序发出所有符合条件的提醒，再处理逾期
func (r *Reconciler) remind(ctx context.Context, id int64) (outcome, error) {
	var (
		out     outcome
		records []*model.NotificationRecord
	)

	err := r.store.InTx(ctx, func(tx repository.Store) error {
		out = outcome{}
		records = nil

		sw, err := tx.GetSwitchForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !sw.IsActive || sw.Status != model.SwitchStatusActive {
			return nil
		}

		now := r.clock.Now()
		window := model.DueWindowKey(sw.NextCheckInDueDate)

		for _, d := range sw.ReminderOffsets() {
			if !sw.ReminderEligible(now, d) {
				continue
			}
			reminder := model.ReminderType(d)
			sent, err := r.ledger.HasSent(ctx, tx, sw.ID, reminder, sw.ReminderWindowStart(d))
			if err != nil {
				return err
			}
			if sent {
				continue
			}

			subject, body := r.composer.Reminder(sw, d)
			created, err := r.owners.Notify(ctx, tx, sw, service.OwnerNotice{
				Type:      reminder,
				WindowKey: window,
				Subject:   subject,
				Body:      body,
			})
			if err != nil {
				return err
			}
			if len(created) > 0 {
				out.reminders++
				records = append(records, created...)
			}
		}

		if !sw.IsOverdue(now) {
			return nil
		}

		sw.EnterGracePeriod(now)
		sw.UpdatedAt = now
		if err := tx.UpdateSwitch(ctx, sw); err != nil {
			return err
		}

		subject, body := r.composer.Overdue(sw)
		created, err := r.owners.Notify(ctx, tx, sw, service.OwnerNotice{
			Type:      model.NotificationTypeOverdue,
			WindowKey: window,
			Subject:   subject,
			Body:      body,
		})
		if err != nil {
			return err
		}
		records = append(records, created...)
		out.escalated++

		logger.Logger.Info("Switch entered grace period",
			zap.Int64("switch_id", sw.ID),
			zap.Int64("user_id", sw.UserID),
			zap.Time("due", sw.NextCheckInDueDate),
			zap.Int("grace_period_days", sw.GracePeriodDays),
		)
		return nil
	})
	if err != nil {
		return outcome{}, skipVanished(err)
	}

	if out.escalated > 0 {
		metrics.RecordTransition(ctx, string(model.SwitchStatusActive), string(model.SwitchStatusGracePeriod))
	}
	r.dispatcher.Dispatch(ctx, records)
	return out, nil
}

// trigger 宽限期结束：状态迁移和释放在同一事务提交，事件在提交后发布
func (r *Reconciler) trigger(ctx context.Context, id int64) (outcome, error) {
	var (
		out       outcome
		triggered *model.Switch
		released  service.ReleaseResult
	)

	err := r.store.InTx(ctx, func(tx repository.Store) error {
		out = outcome{}
		triggered = nil

		sw, err := tx.GetSwitchForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !sw.IsActive || sw.Status != model.SwitchStatusGracePeriod {
			return nil
		}

		now := r.clock.Now()
		if !sw.GraceExpired(now) {
			return nil
		}

		sw.Trigger(now)
		sw.UpdatedAt = now
		if err := tx.UpdateSwitch(ctx, sw); err != nil {
			return err
		}

		released, err = r.release.Release(ctx, tx, sw)
		if err != nil {
			return err
		}

		out.triggered = 1
		out.released = released.Notified
		triggered = sw
		return nil
	})
	if err != nil {
		return outcome{}, skipVanished(err)
	}
	if triggered == nil {
		return out, nil
	}

	logger.Logger.Info("Switch triggered",
		zap.Int64("switch_id", triggered.ID),
		zap.Int64("user_id", triggered.UserID),
		zap.Int("heirs_notified", released.Notified),
		zap.Int("heirs_failed", released.Failed),
	)
	metrics.RecordTransition(ctx, string(model.SwitchStatusGracePeriod), string(model.SwitchStatusTriggered))

	r.dispatcher.Dispatch(ctx, released.Records)
	if err := r.dispatcher.PublishSwitchTriggered(ctx, triggered, released); err != nil {
		logger.Logger.Warn("Failed to publish switch triggered event",
			zap.Int64("switch_id", triggered.ID),
			zap.Error(err),
		)
	}
	return out, nil
}

// skipVanished 翻页之后被删除的开关不算失败
func skipVanished(err error) error {
	if stderrors.Is(err, errors.SwitchNotFound) {
		return nil
	}
	return err
}

// acquire 返回锁持有者 token。Redis 不可用时不持锁继续执行，
// 行锁和台账唯一索引保证并发扫描不会重复发送。
func (r *Reconciler) acquire(ctx context.Context, name string, log *zap.Logger) (string, bool) {
	if r.locker == nil {
		return "", true
	}
	owner, ok, err := r.locker.TryLock(ctx, name, r.opts.MaxSweepDuration+lockMargin)
	if err != nil {
		log.Warn("Sweep lock unavailable, continuing without lock", zap.Error(err))
		return "", true
	}
	return owner, ok
}

func (r *Reconciler) unlock(ctx context.Context, name, owner string, log *zap.Logger) {
	if err := r.locker.Unlock(context.WithoutCancel(ctx), name, owner); err != nil {
		log.Warn("Failed to release sweep lock", zap.Error(err))
	}
}

func (r *Reconciler) loadCursor(ctx context.Context, name string, log *zap.Logger) int64 {
	if r.cursor == nil {
		return 0
	}
	afterID, err := r.cursor.Load(ctx, name)
	if err != nil {
		log.Warn("Failed to load sweep cursor, starting from the beginning", zap.Error(err))
		return 0
	}
	return afterID
}

func (r *Reconciler) storeCursor(ctx context.Context, name string, afterID int64, completed bool, log *zap.Logger) {
	if r.cursor == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	var err error
	if completed {
		err = r.cursor.Clear(ctx, name)
	} else {
		err = r.cursor.Save(ctx, name, afterID)
	}
	if err != nil {
		log.Warn("Failed to persist sweep cursor",
			zap.Int64("after_id", afterID),
			zap.Bool("completed", completed),
			zap.Error(err),
		)
	}
}
