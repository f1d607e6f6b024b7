package mail

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/sendgrid/rest"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/notify"
)

type fakeClient struct {
	resp *rest.Response
	err  error
	sent []*sgmail.SGMailV3
}

func (f *fakeClient) SendWithContext(_ context.Context, email *sgmail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	return f.resp, f.err
}

func newTestSender(c client) *Sender {
	return &Sender{client: c, fromName: "DMS", fromEmail: "no-reply@example.com"}
}

func TestSendReturnsMessageID(t *testing.T) {
	fc := &fakeClient{resp: &rest.Response{
		StatusCode: http.StatusAccepted,
		Headers:    map[string][]string{"X-Message-Id": {"sg-123"}},
	}}
	id, err := newTestSender(fc).Send(context.Background(), notify.Message{
		Channel:   notify.ChannelEmail,
		Recipient: "owner@example.com",
		Subject:   "Check-in Reminder",
		Body:      "line one\n\nline <two>",
		Reference: "notification:1",
	})
	require.NoError(t, err)
	assert.Equal(t, "sg-123", id)
	require.Len(t, fc.sent, 1)
	assert.Equal(t, "Check-in Reminder", fc.sent[0].Subject)
	assert.Equal(t, "notification:1", fc.sent[0].Headers["X-Notification-Ref"])
}

func TestSendClassifiesFailures(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		err          error
		nonRetryable bool
	}{
		{name: "bad request", status: http.StatusBadRequest, nonRetryable: true},
		{name: "rate limited", status: http.StatusTooManyRequests},
		{name: "server error", status: http.StatusBadGateway},
		{name: "transport error", err: stderrors.New("dial tcp: timeout")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeClient{err: tt.err}
			if tt.err == nil {
				fc.resp = &rest.Response{StatusCode: tt.status}
			}
			_, err := newTestSender(fc).Send(context.Background(), notify.Message{Recipient: "a@example.com"})
			require.Error(t, err)
			assert.Equal(t, errors.KindDelivery, errors.KindOf(err))
			assert.Equal(t, tt.nonRetryable, errors.IsNonRetryable(err))
		})
	}
}

func TestHTMLBodyEscapes(t *testing.T) {
	assert.Equal(t, "<p>a<br>b</p><p>&lt;c&gt;</p>", htmlBody("a\nb\n\n<c>"))
}
