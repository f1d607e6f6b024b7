package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/repository/memory"
	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/storage/mq"
)

type mockDeliverer struct {
	mock.Mock
}

func (m *mockDeliverer) Deliver(ctx context.Context, msg model.NotificationMessage) error {
	return m.Called(ctx, msg).Error(0)
}

type fakeMarker struct {
	mu     sync.Mutex
	marked map[string]bool
	err    error
}

func newFakeMarker() *fakeMarker {
	return &fakeMarker{marked: make(map[string]bool)}
}

func (m *fakeMarker) MarkProcessing(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.marked[id] {
		return false, nil
	}
	m.marked[id] = true
	return true, nil
}

func (m *fakeMarker) Unmark(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.marked, id)
	return nil
}

func notificationBody(t *testing.T, msg model.NotificationMessage) []byte {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return body
}

func TestHandleNotificationDeliversOnce(t *testing.T) {
	deliverer := &mockDeliverer{}
	marker := newFakeMarker()
	c := NewConsumers(deliverer, marker, memory.NewStore(), 10)

	msg := model.NotificationMessage{MessageID: "notification:7", NotificationID: 7, SwitchID: 1, Channel: "email"}
	deliverer.On("Deliver", mock.Anything, msg).Return(nil).Once()

	ctx := context.Background()
	require.NoError(t, c.HandleNotification(ctx, notificationBody(t, msg)))

	err := c.HandleNotification(ctx, notificationBody(t, msg))
	assert.True(t, errors.IsSkipMessageError(err))
	deliverer.AssertExpectations(t)
}

func TestHandleNotificationUnmarksOnRetryableFailure(t *testing.T) {
	deliverer := &mockDeliverer{}
	marker := newFakeMarker()
	c := NewConsumers(deliverer, marker, memory.NewStore(), 10)

	msg := model.NotificationMessage{NotificationID: 9, Channel: "sms"}
	expected := msg
	expected.MessageID = "notification:9"

	boom := stderrors.New("smtp timeout")
	deliverer.On("Deliver", mock.Anything, expected).Return(boom).Once()
	deliverer.On("Deliver", mock.Anything, expected).Return(nil).Once()

	ctx := context.Background()
	assert.ErrorIs(t, c.HandleNotification(ctx, notificationBody(t, msg)), boom)
	assert.False(t, marker.marked["notification:9"])

	require.NoError(t, c.HandleNotification(ctx, notificationBody(t, msg)))
	deliverer.AssertExpectations(t)
}

func TestHandleNotificationSkipsPoisonMessages(t *testing.T) {
	c := NewConsumers(&mockDeliverer{}, newFakeMarker(), memory.NewStore(), 10)
	ctx := context.Background()

	assert.True(t, errors.IsSkipMessageError(c.HandleNotification(ctx, []byte("{not json"))))
	assert.True(t, errors.IsSkipMessageError(c.HandleNotification(ctx, []byte(`{"message_id":"x"}`))))
}

func TestHandleNotificationContinuesWhenMarkerUnavailable(t *testing.T) {
	deliverer := &mockDeliverer{}
	marker := newFakeMarker()
	marker.err = errors.CircuitOpen
	c := NewConsumers(deliverer, marker, memory.NewStore(), 10)

	msg := model.NotificationMessage{MessageID: "notification:3", NotificationID: 3}
	deliverer.On("Deliver", mock.Anything, msg).Return(nil).Twice()

	ctx := context.Background()
	require.NoError(t, c.HandleNotification(ctx, notificationBody(t, msg)))
	require.NoError(t, c.HandleNotification(ctx, notificationBody(t, msg)))
	deliverer.AssertExpectations(t)
}

func TestHandleSwitchTriggered(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	for _, heirID := range []int64{11, 12} {
		_, err := store.InsertAccessGrant(ctx, &model.AccessGrant{
			SwitchID:  42,
			UserID:    1,
			HeirID:    heirID,
			GrantedAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			Status:    model.AccessGrantStatusPending,
		})
		require.NoError(t, err)
	}

	c := NewConsumers(&mockDeliverer{}, newFakeMarker(), store, 10)
	event := model.EventMessage{
		MessageID: "switch.triggered:42",
		EventType: model.EventTypeSwitchTriggered,
		EventKey:  "switch:42",
		Payload:   map[string]interface{}{"switch_id": "42", "notified": 2, "failed": 0},
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	require.NoError(t, c.HandleSwitchTriggered(ctx, body))
	assert.True(t, errors.IsSkipMessageError(c.HandleSwitchTriggered(ctx, body)), "duplicate delivery is skipped")

	event.MessageID = "other"
	event.EventType = "switch.cancelled"
	body, err = json.Marshal(event)
	require.NoError(t, err)
	assert.True(t, errors.IsSkipMessageError(c.HandleSwitchTriggered(ctx, body)))

	event.EventType = model.EventTypeSwitchTriggered
	event.Payload = map[string]interface{}{}
	body, err = json.Marshal(event)
	require.NoError(t, err)
	assert.True(t, errors.IsSkipMessageError(c.HandleSwitchTriggered(ctx, body)))
}

type published struct {
	exchange, routingKey, messageID string
	body                            interface{}
}

func TestProducerRoutesByChannel(t *testing.T) {
	var got []published
	p := &Producer{publish: func(_ context.Context, exchange, routingKey, messageID string, body interface{}) error {
		got = append(got, published{exchange, routingKey, messageID, body})
		return nil
	}}
	ctx := context.Background()

	require.NoError(t, p.PublishNotification(ctx, model.NotificationMessage{MessageID: "notification:1", Channel: "SMS"}))
	require.NoError(t, p.PublishEvent(ctx, "events.switch.triggered", model.EventMessage{MessageID: "switch.triggered:1"}))

	require.Len(t, got, 2)
	assert.Equal(t, mq.NotificationExchange, got[0].exchange)
	assert.Equal(t, "notification.sms", got[0].routingKey)
	assert.Equal(t, "notification:1", got[0].messageID)
	assert.Equal(t, mq.EventsExchange, got[1].exchange)
	assert.Equal(t, "events.switch.triggered", got[1].routingKey)
}

func TestProducerReturnsPublishError(t *testing.T) {
	boom := stderrors.New("channel closed")
	p := &Producer{publish: func(context.Context, string, string, string, interface{}) error { return boom }}

	assert.ErrorIs(t, p.PublishNotification(context.Background(), model.NotificationMessage{Channel: "email"}), boom)
}
