package service

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/repository"
	"DeadManSwitch/internal/repository/memory"
)

func addHeirs(f *fixture, userID int64) {
	f.dir.AddHeir(model.Heir{ID: 11, UserID: userID, Email: "a@example.com", FullName: "Alice", IsVerified: true})
	f.dir.AddHeir(model.Heir{ID: 12, UserID: userID, Email: "b@example.com", FullName: "Bob", IsVerified: true})
	f.dir.AddHeir(model.Heir{ID: 13, UserID: userID, Email: "c@example.com", FullName: "Carol", IsVerified: true})
	f.dir.AddHeir(model.Heir{ID: 14, UserID: userID, Email: "d@example.com", FullName: "Dave", IsVerified: false})
	f.dir.AddHeir(model.Heir{ID: 15, UserID: userID, Email: "e@example.com", FullName: "Eve", IsVerified: true, IsDeleted: true})
}

func triggered(t *testing.T, f *fixture, userID int64) *model.Switch {
	t.Helper()
	return f.mutate(t, userID, func(sw *model.Switch) {
		sw.EnterGracePeriod(f.clock.Now())
		sw.Trigger(f.clock.Now())
	})
}

func (f *fixture) releaseInTx(t *testing.T, sw *model.Switch) (ReleaseResult, error) {
	t.Helper()
	var result ReleaseResult
	err := f.store.InTx(context.Background(), func(tx repository.Store) error {
		var err error
		result, err = f.release.Release(context.Background(), tx, sw)
		return err
	})
	return result, err
}

func TestReleaseNotifiesVerifiedHeirsOnce(t *testing.T) {
	f := newFixture(t)
	f.setup(t, 1)
	addHeirs(f, 1)
	sw := triggered(t, f, 1)

	result, err := f.releaseInTx(t, sw)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Heirs)
	assert.Equal(t, 3, result.Notified)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Records, 3)
	assert.Equal(t, 3, f.store.CountNotifications(sw.ID, model.NotificationTypeSwitchTriggered))

	for _, rec := range result.Records {
		assert.Equal(t, model.RecipientKindHeir, rec.RecipientKind)
		assert.Equal(t, model.TriggerWindowKey(*sw.TriggeredAt), rec.WindowKey)
		assert.Equal(t, model.NotificationChannelEmail, rec.Channel)
	}

	grants, err := f.store.ListAccessGrants(context.Background(), sw.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 3)

	// 重复执行不产生新记录
	result, err = f.releaseInTx(t, sw)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Notified)
	assert.Empty(t, result.Records)
	assert.Equal(t, 3, f.store.CountNotifications(sw.ID, model.NotificationTypeSwitchTriggered))
}

func TestReleaseIsolatesHeirFailures(t *testing.T) {
	f := newFixture(t)
	f.setup(t, 1)
	addHeirs(f, 1)
	sw := triggered(t, f, 1)

	f.store.SetHooks(memory.Hooks{
		BeforeInsertNotification: func(rec *model.NotificationRecord) error {
			if rec.HeirID == 12 {
				return stderrors.New("disk full")
			}
			return nil
		},
	})

	result, err := f.releaseInTx(t, sw)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Notified)
	assert.Equal(t, 1, result.Failed)

	// 失败的继承人连同授权记录一起回滚
	grants, err := f.store.ListAccessGrants(context.Background(), sw.ID)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	for _, g := range grants {
		assert.NotEqual(t, int64(12), g.HeirID)
	}

	// 故障恢复后补发给漏掉的继承人
	f.store.SetHooks(memory.Hooks{})
	result, err = f.releaseInTx(t, sw)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Notified)
	assert.Equal(t, 3, f.store.CountNotifications(sw.ID, model.NotificationTypeSwitchTriggered))
}

func TestReleaseHeirWithoutEmail(t *testing.T) {
	f := newFixture(t)
	f.setup(t, 1)
	f.dir.AddHeir(model.Heir{ID: 21, UserID: 1, Email: "", Phone: "13800138001", IsVerified: true})
	f.dir.AddHeir(model.Heir{ID: 22, UserID: 1, Email: "ok@example.com", IsVerified: true})
	sw := triggered(t, f, 1)

	result, err := f.releaseInTx(t, sw)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Notified)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Records, 1)
	assert.Equal(t, int64(22), result.Records[0].HeirID)
}

func TestReleaseRequiresTriggeredSwitch(t *testing.T) {
	f := newFixture(t)
	sw := f.setup(t, 1)

	_, err := f.releaseInTx(t, sw)
	assert.Error(t, err)
}
