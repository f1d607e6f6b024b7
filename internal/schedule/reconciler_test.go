package schedule

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/repository/memory"
	"DeadManSwitch/internal/service"
	"DeadManSwitch/pkg/errors"
)

func TestSweepRemindersEmitsOncePerWindow(t *testing.T) {
	f := newFixture(t, Options{})
	sw := f.setup(t, 1)
	ctx := context.Background()

	// 距截止 6.5 天：只有 7 天提醒符合条件
	f.clock.Advance(23*model.Day + 12*time.Hour)
	result, err := f.reconciler.SweepReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Reminders)
	assert.Equal(t, 0, result.Escalated)
	assert.True(t, result.Completed)
	assert.Equal(t, 1, f.store.CountNotifications(sw.ID, model.ReminderType(7)))
	assert.Equal(t, 1, f.publisher.notificationCount())

	// 同一窗口重复扫描不再发送
	f.clock.Advance(time.Hour)
	result, err = f.reconciler.SweepReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Reminders)
	assert.Equal(t, 1, f.store.CountNotifications(sw.ID, model.ReminderType(7)))
	assert.Equal(t, 1, f.publisher.notificationCount())

	got := f.load(t, 1)
	assert.Equal(t, model.SwitchStatusActive, got.Status)
	assert.Equal(t, sw.NextCheckInDueDate, got.NextCheckInDueDate)
}

func TestSweepRemindersCatchesUpInDescendingOrder(t *testing.T) {
	f := newFixture(t, Options{})
	sw := f.setup(t, 1)

	// 错过了所有提醒时间点，距截止 12 小时：7/3/1 天全部补发
	f.clock.Advance(29*model.Day + 12*time.Hour)
	result, err := f.reconciler.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Reminders)

	records, err := f.store.ListNotifications(context.Background(), sw.ID, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, d := range []int{7, 3, 1} {
		assert.Equal(t, 1, f.store.CountNotifications(sw.ID, model.ReminderType(d)))
	}
	for _, rec := range records {
		assert.Equal(t, model.DueWindowKey(sw.NextCheckInDueDate), rec.WindowKey)
		assert.Equal(t, model.NotificationStatusQueued, rec.Status)
	}
}

func TestSweepRemindersNewCycleAfterCheckIn(t *testing.T) {
	f := newFixture(t, Options{})
	sw := f.setup(t, 1)
	ctx := context.Background()

	f.clock.Advance(23*model.Day + 12*time.Hour)
	_, err := f.reconciler.SweepReminders(ctx)
	require.NoError(t, err)

	_, err = f.switches.CheckIn(ctx, 1, service.CheckInMeta{})
	require.NoError(t, err)

	// 新周期再次进入 7 天窗口，允许再发一次
	f.clock.Advance(23*model.Day + 12*time.Hour)
	result, err := f.reconciler.SweepReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reminders)
	assert.Equal(t, 2, f.store.CountNotifications(sw.ID, model.ReminderType(7)))
}

func TestSweepRemindersEscalatesOverdueSwitch(t *testing.T) {
	f := newFixture(t, Options{})
	sw := f.setup(t, 1)
	ctx := context.Background()

	f.clock.Advance(30*model.Day + time.Hour)
	result, err := f.reconciler.SweepReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Escalated)
	assert.Equal(t, 0, result.Reminders)

	got := f.load(t, 1)
	assert.Equal(t, model.SwitchStatusGracePeriod, got.Status)
	require.NotNil(t, got.GracePeriodStartedAt)
	assert.Equal(t, f.clock.Now(), *got.GracePeriodStartedAt)
	assert.Nil(t, got.TriggeredAt)
	assert.Equal(t, 1, f.store.CountNotifications(sw.ID, model.NotificationTypeOverdue))

	// 已在宽限期的开关不再是 A 扫描的候选
	f.clock.Advance(time.Hour)
	result, err = f.reconciler.SweepReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, 1, f.store.CountNotifications(sw.ID, model.NotificationTypeOverdue))
}

func TestSweepRemindersIgnoresExactDueInstant(t *testing.T) {
	f := newFixture(t, Options{})
	f.setup(t, 1)

	f.clock.Advance(30 * model.Day)
	result, err := f.reconciler.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Escalated)
	assert.Equal(t, model.SwitchStatusActive, f.load(t, 1).Status)
}

func TestCheckInDuringGraceCancelsEscalation(t *testing.T) {
	f := newFixture(t, Options{})
	f.setup(t, 1)
	ctx := context.Background()

	f.clock.Advance(31 * model.Day)
	_, err := f.reconciler.SweepReminders(ctx)
	require.NoError(t, err)

	_, err = f.switches.CheckIn(ctx, 1, service.CheckInMeta{})
	require.NoError(t, err)

	f.clock.Advance(14 * model.Day)
	result, err := f.reconciler.SweepGracePeriods(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, model.SwitchStatusActive, f.load(t, 1).Status)
}

func TestSweepGracePeriodsTriggersAndReleases(t *testing.T) {
	f := newFixture(t, Options{})
	sw := f.setup(t, 1)
	addHeirs(f, 1)
	ctx := context.Background()

	f.clock.Advance(30*model.Day + time.Hour)
	_, err := f.reconciler.SweepReminders(ctx)
	require.NoError(t, err)

	// 宽限期未结束
	f.clock.Advance(13 * model.Day)
	result, err := f.reconciler.SweepGracePeriods(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 0, result.Triggered)

	f.clock.Advance(model.Day)
	result, err = f.reconciler.SweepGracePeriods(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Triggered)
	assert.Equal(t, 3, result.Released)
	assert.Equal(t, 0, result.Failed)

	got := f.load(t, 1)
	assert.Equal(t, model.SwitchStatusTriggered, got.Status)
	require.NotNil(t, got.TriggeredAt)
	assert.Equal(t, f.clock.Now(), *got.TriggeredAt)
	assert.Equal(t, 3, f.store.CountNotifications(sw.ID, model.NotificationTypeSwitchTriggered))

	grants, err := f.store.ListAccessGrants(ctx, sw.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 3)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, service.SwitchTriggeredRoutingKey, f.publisher.routingKeys[0])

	// 终态不再处理
	f.clock.Advance(6 * time.Hour)
	result, err = f.reconciler.SweepGracePeriods(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, 3, f.store.CountNotifications(sw.ID, model.NotificationTypeSwitchTriggered))
	assert.Len(t, f.publisher.events, 1)
}

func TestSweepIsolatesSwitchFailures(t *testing.T) {
	f := newFixture(t, Options{WorkerPoolSize: 2})
	for userID := int64(1); userID <= 3; userID++ {
		f.setup(t, userID)
	}
	f.store.SetHooks(memory.Hooks{
		BeforeUpdateSwitch: func(sw *model.Switch) error {
			if sw.UserID == 2 {
				return errors.StorageTransient
			}
			return nil
		},
	})

	f.clock.Advance(31 * model.Day)
	result, err := f.reconciler.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 2, result.Escalated)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, result.Completed)

	assert.Equal(t, model.SwitchStatusGracePeriod, f.load(t, 1).Status)
	assert.Equal(t, model.SwitchStatusActive, f.load(t, 2).Status)
	assert.Equal(t, model.SwitchStatusGracePeriod, f.load(t, 3).Status)
	assert.Equal(t, 0, f.store.CountNotifications(f.load(t, 2).ID, model.NotificationTypeOverdue))

	// 下一次扫描补上失败的开关
	f.store.SetHooks(memory.Hooks{})
	result, err = f.reconciler.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Escalated)
	assert.Equal(t, model.SwitchStatusGracePeriod, f.load(t, 2).Status)
}

func TestSweepResumesFromCursorAfterTimeCap(t *testing.T) {
	f := newFixture(t, Options{WorkerPoolSize: 1, BatchSize: 2, MaxSweepDuration: time.Minute})
	cursor := newFakeCursor()
	f.reconciler.WithCoordination(nil, cursor)
	for userID := int64(1); userID <= 5; userID++ {
		f.setup(t, userID)
	}

	f.clock.Advance(31 * model.Day)
	// 每处理一个开关时钟前进一分钟，第一页结束后即超过时长上限
	f.store.SetHooks(memory.Hooks{
		BeforeUpdateSwitch: func(*model.Switch) error {
			f.clock.Advance(time.Minute)
			return nil
		},
	})

	ctx := context.Background()
	result, err := f.reconciler.SweepReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 2, result.Escalated)
	assert.False(t, result.Completed)
	assert.False(t, result.Resumed)

	saved, err := cursor.Load(ctx, SweepReminders)
	require.NoError(t, err)
	assert.Equal(t, f.load(t, 2).ID, saved)

	f.store.SetHooks(memory.Hooks{})
	result, err = f.reconciler.SweepReminders(ctx)
	require.NoError(t, err)
	assert.True(t, result.Resumed)
	assert.True(t, result.Completed)
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 3, result.Escalated)

	saved, err = cursor.Load(ctx, SweepReminders)
	require.NoError(t, err)
	assert.Zero(t, saved)

	for userID := int64(1); userID <= 5; userID++ {
		assert.Equal(t, model.SwitchStatusGracePeriod, f.load(t, userID).Status)
	}
}

func TestSweepStopsWhenContextCancelled(t *testing.T) {
	f := newFixture(t, Options{})
	cursor := newFakeCursor()
	f.reconciler.WithCoordination(nil, cursor)
	f.setup(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.reconciler.SweepReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.False(t, result.Completed)
}

func TestSweepSkipsWhenLockHeldElsewhere(t *testing.T) {
	f := newFixture(t, Options{})
	locker := &fakeLocker{held: true}
	f.reconciler.WithCoordination(locker, nil)
	f.setup(t, 1)

	f.clock.Advance(31 * model.Day)
	result, err := f.reconciler.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, model.SwitchStatusActive, f.load(t, 1).Status)
	assert.Empty(t, locker.unlocked)
}

func TestSweepProceedsWithoutLockWhenRedisUnavailable(t *testing.T) {
	f := newFixture(t, Options{})
	locker := &fakeLocker{err: stderrors.New("dial tcp: connection refused")}
	f.reconciler.WithCoordination(locker, nil)
	f.setup(t, 1)

	f.clock.Advance(31 * model.Day)
	result, err := f.reconciler.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Escalated)
	assert.Empty(t, locker.unlocked)
}

func TestSweepReleasesLockAfterRun(t *testing.T) {
	f := newFixture(t, Options{})
	locker := &fakeLocker{}
	f.reconciler.WithCoordination(locker, nil)
	f.setup(t, 1)

	_, err := f.reconciler.SweepGracePeriods(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{SweepGracePeriods + "/owner-" + SweepGracePeriods}, locker.unlocked)
}

func TestSweepSkipsDeactivatedSwitch(t *testing.T) {
	f := newFixture(t, Options{})
	f.setup(t, 1)
	ctx := context.Background()

	cancelled, err := f.switches.Cancel(ctx, 1)
	require.NoError(t, err)
	require.True(t, cancelled)

	f.clock.Advance(45 * model.Day)
	result, err := f.reconciler.SweepReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, model.SwitchStatusActive, f.load(t, 1).Status)
}
