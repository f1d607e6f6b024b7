package service

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"DeadManSwitch/internal/directory"
	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/model/dto"
	"DeadManSwitch/internal/repository/memory"
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
	clock    *clockwork.FakeClock
	store    *memory.Store
	dir      *directory.MemoryDirectory
	links    *token.LinkSigner
	ledger   *Ledger
	composer *Composer
	owners   *OwnerNotifier
	release  *ReleaseCoordinator
	switches *SwitchService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(testStart)
	store := memory.NewStore()
	dir := directory.NewMemoryDirectory()
	links := token.NewLinkSigner("link-secret", 72*time.Hour, clock.Now)
	ledger := NewLedger(clock)
	composer := NewComposer("https://dms.example.com/")

	return &fixture{
		clock:    clock,
		store:    store,
		dir:      dir,
		links:    links,
		ledger:   ledger,
		composer: composer,
		owners:   NewOwnerNotifier(dir, ledger, composer, links),
		release:  NewReleaseCoordinator(dir, dir, ledger, composer, clock),
		switches: NewSwitchService(store, dir, links, clock),
	}
}

func directoryContact() directory.Contact {
	return directory.Contact{Email: "owner@example.com", Phone: "13800138000", FullName: "Owner"}
}

// setup 创建用户和默认配置的开关
func (f *fixture) setup(t *testing.T, userID int64) *model.Switch {
	t.Helper()
	f.dir.AddUser(userID, directoryContact())
	sw, err := f.switches.Setup(context.Background(), userID, setupRequest())
	require.NoError(t, err)
	return sw
}

// mutate 绕过服务直接改写开关状态
func (f *fixture) mutate(t *testing.T, userID int64, fn func(sw *model.Switch)) *model.Switch {
	t.Helper()
	ctx := context.Background()
	sw, err := f.store.GetSwitchByUser(ctx, userID)
	require.NoError(t, err)
	fn(sw)
	require.NoError(t, f.store.UpdateSwitch(ctx, sw))
	return sw
}

func (f *fixture) load(t *testing.T, userID int64) *model.Switch {
	t.Helper()
	sw, err := f.store.GetSwitchByUser(context.Background(), userID)
	require.NoError(t, err)
	return sw
}

func setupRequest() dto.SetupSwitchRequest {
	return dto.SetupSwitchRequest{
		CheckInIntervalDays: intPtr(30),
		GracePeriodDays:     intPtr(14),
	}
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

// linkTokenFromBody 取出正文里签到链接的 token
func linkTokenFromBody(t *testing.T, body string) string {
	t.Helper()
	idx := strings.Index(body, "token=")
	require.GreaterOrEqual(t, idx, 0, "body has no check-in link")
	return strings.TrimSpace(body[idx+len("token="):])
}

// fakePublisher 记录发布的消息，可按次数注入失败
type fakePublisher struct {
	mu            sync.Mutex
	notifications []model.NotificationMessage
	events        []model.EventMessage
	routingKeys   []string
	err           error
}

func (p *fakePublisher) PublishNotification(_ context.Context, msg model.NotificationMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.notifications = append(p.notifications, msg)
	return nil
}

func (p *fakePublisher) PublishEvent(_ context.Context, routingKey string, msg model.EventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.routingKeys = append(p.routingKeys, routingKey)
	p.events = append(p.events, msg)
	return nil
}

func (p *fakePublisher) published() []model.NotificationMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.NotificationMessage(nil), p.notifications...)
}
