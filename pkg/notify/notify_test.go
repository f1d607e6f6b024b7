package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeadManSwitch/pkg/errors"
)

func TestMuxRoutesByChannel(t *testing.T) {
	var got Message
	mux := NewMux().
		Handle(ChannelEmail, SenderFunc(func(_ context.Context, msg Message) (string, error) {
			got = msg
			return "mail-1", nil
		})).
		Handle(ChannelPush, LogSender{Channel: ChannelPush})

	id, err := mux.Send(context.Background(), Message{Channel: ChannelEmail, Recipient: "a@example.com", Subject: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "mail-1", id)
	assert.Equal(t, "a@example.com", got.Recipient)

	id, err = mux.Send(context.Background(), Message{Channel: ChannelPush, Recipient: "user:1"})
	require.NoError(t, err)
	assert.Contains(t, id, "log-")
}

func TestMuxRejectsUnknownChannel(t *testing.T) {
	_, err := NewMux().Send(context.Background(), Message{Channel: "pigeon", Recipient: "x"})
	require.Error(t, err)
	assert.True(t, errors.IsNonRetryable(err))
	assert.Equal(t, errors.KindDelivery, errors.KindOf(err))
}

func TestMuxRejectsEmptyRecipient(t *testing.T) {
	mux := NewMux().Handle(ChannelSMS, LogSender{Channel: ChannelSMS})
	_, err := mux.Send(context.Background(), Message{Channel: ChannelSMS, Recipient: "  "})
	require.Error(t, err)
	assert.True(t, errors.IsNonRetryable(err))
}
