package mq

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"DeadManSwitch/pkg/errors"
)

type fakeAck struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAck) Ack(bool) error {
	a.acked = true
	return nil
}

func (a *fakeAck) Nack(_, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func TestSettle(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  string
		acked   bool
		requeue bool
	}{
		{name: "success", status: "success", acked: true},
		{name: "skip", err: errors.NewSkipMessageError("duplicate"), status: "skipped", acked: true},
		{name: "non-retryable", err: errors.NewNonRetryableError(errors.RecipientMissing), status: "dropped"},
		{name: "retryable", err: fmt.Errorf("%w: timeout", errors.DeliveryFailed), status: "requeued", requeue: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack := &fakeAck{}
			assert.Equal(t, tc.status, Settle(ack, tc.err))
			assert.Equal(t, tc.acked, ack.acked)
			assert.Equal(t, !tc.acked, ack.nacked)
			assert.Equal(t, tc.requeue, ack.requeue)
		})
	}
}
