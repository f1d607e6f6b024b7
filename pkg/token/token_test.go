package token

import (
	stderrors "errors"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeadManSwitch/pkg/errors"
)

func TestNewGeneratorRequiresSecret(t *testing.T) {
	_, err := NewGenerator(Settings{Timeout: time.Hour})
	assert.Error(t, err)
}

func TestSignAccessToken(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now().Truncate(time.Second))
	generator, err := NewGenerator(Settings{Secret: "jwt-secret", Timeout: 30 * time.Minute, MaxRefresh: time.Hour, Now: clock.Now})
	require.NoError(t, err)

	signed, err := SignAccessToken(generator, 1234567890123)
	require.NoError(t, err)

	parsed, err := jwtv5.Parse(signed, func(*jwtv5.Token) (interface{}, error) {
		return []byte("jwt-secret"), nil
	})
	require.NoError(t, err)

	claims := parsed.Claims.(jwtv5.MapClaims)
	assert.Equal(t, "1234567890123", claims[IdentityKey])
	assert.Equal(t, float64(clock.Now().Add(30*time.Minute).Unix()), claims["exp"])
}

func TestSignAccessTokenWithoutGenerator(t *testing.T) {
	_, err := SignAccessToken(nil, 1)
	assert.True(t, stderrors.Is(err, errors.ErrTokenGeneratorNotInitialized))
}
