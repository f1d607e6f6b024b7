package schedule

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"DeadManSwitch/internal/directory"
	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/model/dto"
	"DeadManSwitch/internal/repository/memory"
	"DeadManSwitch/internal/service"
	"DeadManSwitch/pkg/snowflake"
	"DeadManSwitch/pkg/token"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	if err := snowflake.Init(1, 1); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fixture struct {
	clock      *clockwork.FakeClock
	store      *memory.Store
	dir        *directory.MemoryDirectory
	publisher  *fakePublisher
	switches   *service.SwitchService
	reconciler *Reconciler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(testStart)
	store := memory.NewStore()
	dir := directory.NewMemoryDirectory()
	links := token.NewLinkSigner("link-secret", 72*time.Hour, clock.Now)
	ledger := service.NewLedger(clock)
	composer := service.NewComposer("https://dms.example.com")
	publisher := &fakePublisher{}

	reconciler := NewReconciler(
		store,
		ledger,
		service.NewOwnerNotifier(dir, ledger, composer, links),
		composer,
		service.NewReleaseCoordinator(dir, dir, ledger, composer, clock),
		service.NewDispatcher(store, publisher, publisher, clock),
		clock,
		opts,
	)

	return &fixture{
		clock:      clock,
		store:      store,
		dir:        dir,
		publisher:  publisher,
		switches:   service.NewSwitchService(store, dir, links, clock),
		reconciler: reconciler,
	}
}

// setup 创建 30 天周期、14 天宽限期、默认提醒 7/3/1 天的开关
func (f *fixture) setup(t *testing.T, userID int64) *model.Switch {
	t.Helper()
	f.dir.AddUser(userID, directory.Contact{Email: "owner@example.com", Phone: "13800138000", FullName: "Owner"})
	interval, grace := 30, 14
	sw, err := f.switches.Setup(context.Background(), userID, dto.SetupSwitchRequest{
		CheckInIntervalDays: &interval,
		GracePeriodDays:     &grace,
	})
	require.NoError(t, err)
	return sw
}

func (f *fixture) load(t *testing.T, userID int64) *model.Switch {
	t.Helper()
	sw, err := f.store.GetSwitchByUser(context.Background(), userID)
	require.NoError(t, err)
	return sw
}

func addHeirs(f *fixture, userID int64) {
	f.dir.AddHeir(model.Heir{ID: 11, UserID: userID, Email: "a@example.com", FullName: "Alice", IsVerified: true})
	f.dir.AddHeir(model.Heir{ID: 12, UserID: userID, Email: "b@example.com", FullName: "Bob", IsVerified: true})
	f.dir.AddHeir(model.Heir{ID: 13, UserID: userID, Email: "c@example.com", FullName: "Carol", IsVerified: true})
	f.dir.AddHeir(model.Heir{ID: 14, UserID: userID, Email: "d@example.com", FullName: "Dave", IsVerified: false})
}

type fakePublisher struct {
	mu            sync.Mutex
	notifications []model.NotificationMessage
	events        []model.EventMessage
	routingKeys   []string
}

func (p *fakePublisher) PublishNotification(_ context.Context, msg model.NotificationMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, msg)
	return nil
}

func (p *fakePublisher) PublishEvent(_ context.Context, routingKey string, msg model.EventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routingKeys = append(p.routingKeys, routingKey)
	p.events = append(p.events, msg)
	return nil
}

func (p *fakePublisher) notificationCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.notifications)
}

type fakeCursor struct {
	mu      sync.Mutex
	cursors map[string]int64
}

func newFakeCursor() *fakeCursor {
	return &fakeCursor{cursors: make(map[string]int64)}
}

func (c *fakeCursor) Load(_ context.Context, sweep string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursors[sweep], nil
}

func (c *fakeCursor) Save(_ context.Context, sweep string, afterID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[sweep] = afterID
	return nil
}

func (c *fakeCursor) Clear(_ context.Context, sweep string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cursors, sweep)
	return nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	err      error
	unlocked []string
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if l.held {
		return "", false, nil
	}
	return "owner-" + key, true, nil
}

func (l *fakeLocker) Unlock(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocked = append(l.unlocked, key+"/"+owner)
	return nil
}
