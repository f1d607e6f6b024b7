package token

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeadManSwitch/pkg/errors"
)

func TestLinkSignerRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	signer := NewLinkSigner("secret", 72*time.Hour, clock.Now)

	issued, err := signer.Issue(4242)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ID)
	assert.Equal(t, clock.Now().Add(72*time.Hour), issued.ExpiresAt)

	switchID, jti, err := signer.Verify(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(4242), switchID)
	assert.Equal(t, issued.ID, jti)
}

func TestLinkSignerRejects(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	signer := NewLinkSigner("secret", time.Hour, clock.Now)

	issued, err := signer.Issue(1)
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other := NewLinkSigner("other", time.Hour, clock.Now)
		_, _, err := other.Verify(issued.Token)
		assert.Equal(t, errors.KindInvalidArgument, errors.KindOf(err))
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := signer.Verify("not-a-token")
		assert.ErrorIs(t, err, errors.LinkTokenInvalid)
	})

	t.Run("expired", func(t *testing.T) {
		clock.Advance(2 * time.Hour)

		_, _, err := signer.Verify(issued.Token)
		assert.ErrorIs(t, err, errors.LinkTokenExpired)
	})
}
