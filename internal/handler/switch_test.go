package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeadManSwitch/internal/directory"
	"DeadManSwitch/internal/handler"
	"DeadManSwitch/internal/middleware"
	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/model/dto"
	"DeadManSwitch/internal/repository/memory"
	"DeadManSwitch/internal/router"
	"DeadManSwitch/internal/service"
	"DeadManSwitch/pkg/response"
	"DeadManSwitch/pkg/snowflake"
	"DeadManSwitch/pkg/token"
)

func TestMain(m *testing.M) {
	if err := snowflake.Init(1, 1); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type apiFixture struct {
	clock  *clockwork.FakeClock
	store  *memory.Store
	dir    *directory.MemoryDirectory
	links  *token.LinkSigner
	engine *route.Engine
}

// fakeAuth 用 X-User-Id 头代替 JWT
func fakeAuth(ctx context.Context, c *app.RequestContext) {
	uid := string(c.GetHeader("X-User-Id"))
	if uid == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.Set(middleware.IdentityKey, uid)
	c.Next(ctx)
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store := memory.NewStore()
	dir := directory.NewMemoryDirectory()
	links := token.NewLinkSigner("link-secret", 72*time.Hour, clock.Now)

	engine := route.NewEngine(config.NewOptions(nil))
	router.Register(engine, fakeAuth, handler.NewSwitchHandler(service.NewSwitchService(store, dir, links, clock)), router.Limits{})

	return &apiFixture{clock: clock, store: store, dir: dir, links: links, engine: engine}
}

func (f *apiFixture) do(method, path, userID, body string) *ut.ResponseRecorder {
	var b *ut.Body
	if body != "" {
		b = &ut.Body{Body: strings.NewReader(body), Len: len(body)}
	}
	headers := []ut.Header{{Key: "Content-Type", Value: "application/json"}}
	if userID != "" {
		headers = append(headers, ut.Header{Key: "X-User-Id", Value: userID})
	}
	return ut.PerformRequest(f.engine, method, path, b, headers...)
}

func decodeData(t *testing.T, w *ut.ResponseRecorder, out interface{}) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(w.Result().Body(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func errorCode(t *testing.T, w *ut.ResponseRecorder) string {
	t.Helper()
	var body response.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Result().Body(), &body))
	return body.Error.Code
}

func TestSwitchLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	f.dir.AddUser(42, directory.Contact{Email: "owner@example.com"})

	w := f.do(http.MethodGet, "/v1/switch", "42", "")
	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode())
	assert.Equal(t, "SWITCH_NOT_FOUND", errorCode(t, w))

	w = f.do(http.MethodPost, "/v1/switch", "42", `{"check_in_interval_days":30,"grace_period_days":7}`)
	require.Equal(t, http.StatusCreated, w.Result().StatusCode())
	var created dto.SwitchResponse
	decodeData(t, w, &created)
	assert.Equal(t, "active", created.Status)
	assert.Equal(t, 30, created.CheckInIntervalDays)
	assert.Equal(t, []int{7, 3, 1}, created.ReminderDays)
	assert.Equal(t, []string{"email"}, created.NotificationChannels)
	assert.Equal(t, f.clock.Now().Add(30*24*time.Hour), created.NextCheckInDueDate.UTC())

	w = f.do(http.MethodPost, "/v1/switch", "42", `{}`)
	assert.Equal(t, http.StatusConflict, w.Result().StatusCode())
	assert.Equal(t, "SWITCH_ALREADY_EXISTS", errorCode(t, w))

	w = f.do(http.MethodPatch, "/v1/switch", "42", `{"check_in_interval_days":60}`)
	require.Equal(t, http.StatusOK, w.Result().StatusCode())
	var updated dto.SwitchResponse
	decodeData(t, w, &updated)
	assert.Equal(t, 60, updated.CheckInIntervalDays)

	f.clock.Advance(24 * time.Hour)
	w = f.do(http.MethodPost, "/v1/switch/check-in", "42", "")
	require.Equal(t, http.StatusOK, w.Result().StatusCode())
	var checkIn dto.CheckInResponse
	decodeData(t, w, &checkIn)
	assert.Equal(t, 60, checkIn.DaysUntilNext)

	w = f.do(http.MethodGet, "/v1/switch/history?limit=10", "42", "")
	require.Equal(t, http.StatusOK, w.Result().StatusCode())
	var history dto.SwitchHistoryResponse
	decodeData(t, w, &history)
	require.Len(t, history.CheckIns, 1)
	assert.Equal(t, "manual", history.CheckIns[0].Method)

	w = f.do(http.MethodPost, "/v1/switch/cancel", "42", "")
	require.Equal(t, http.StatusOK, w.Result().StatusCode())
	var cancelled dto.CancelSwitchResponse
	decodeData(t, w, &cancelled)
	assert.True(t, cancelled.Cancelled)

	w = f.do(http.MethodPost, "/v1/switch/cancel", "42", "")
	decodeData(t, w, &cancelled)
	assert.False(t, cancelled.Cancelled)

	w = f.do(http.MethodPost, "/v1/switch/check-in", "42", "")
	assert.Equal(t, http.StatusConflict, w.Result().StatusCode())
	assert.Equal(t, "SWITCH_INACTIVE", errorCode(t, w))
}

func TestSetupRejectsInvalidConfig(t *testing.T) {
	f := newAPIFixture(t)
	f.dir.AddUser(42, directory.Contact{Email: "owner@example.com"})

	w := f.do(http.MethodPost, "/v1/switch", "42", `{"check_in_interval_days":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode())
	assert.Equal(t, "SWITCH_CONFIG_INVALID", errorCode(t, w))

	w = f.do(http.MethodPost, "/v1/switch", "42", `{"notification_channels":["pigeon"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode())
}

func TestRoutesRequireAuth(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/v1/switch", "/v1/switch/history"} {
		w := f.do(http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode(), path)
	}
}

func TestCheckInByLink(t *testing.T) {
	f := newAPIFixture(t)
	f.dir.AddUser(42, directory.Contact{Email: "owner@example.com"})

	w := f.do(http.MethodPost, "/v1/switch", "42", `{"check_in_interval_days":30}`)
	require.Equal(t, http.StatusCreated, w.Result().StatusCode())
	sw, err := f.store.GetSwitchByUser(context.Background(), 42)
	require.NoError(t, err)

	link, err := f.links.Issue(sw.ID)
	require.NoError(t, err)
	_, err = f.store.InsertNotification(context.Background(), &model.NotificationRecord{
		SwitchID:             sw.ID,
		UserID:               42,
		NotificationType:     model.ReminderType(7),
		WindowKey:            model.DueWindowKey(sw.NextCheckInDueDate),
		RecipientKind:        model.RecipientKindOwner,
		Channel:              model.NotificationChannelEmail,
		Status:               model.NotificationStatusQueued,
		Subject:              "Reminder",
		Body:                 "Check in",
		SentAt:               f.clock.Now(),
		CheckInLinkToken:     link.ID,
		CheckInLinkExpiresAt: &link.ExpiresAt,
	})
	require.NoError(t, err)

	w = f.do(http.MethodGet, "/v1/switch/check-in/link", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode())
	assert.Equal(t, "LINK_TOKEN_INVALID", errorCode(t, w))

	w = f.do(http.MethodGet, "/v1/switch/check-in/link?token=garbage", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode())

	f.clock.Advance(time.Hour)
	w = f.do(http.MethodGet, "/v1/switch/check-in/link?token="+link.Token, "", "")
	require.Equal(t, http.StatusOK, w.Result().StatusCode())
	var checkIn dto.CheckInResponse
	decodeData(t, w, &checkIn)
	assert.Equal(t, f.clock.Now(), checkIn.CheckInAt.UTC())

	history, err := f.store.ListCheckIns(context.Background(), sw.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.CheckInMethodEmailLink, history[0].Method)
}
