package token

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"DeadManSwitch/pkg/errors"
)

const linkTokenType = "checkin_link"

// LinkClaims 邮件签到链接的载荷，jti 同时写入通知记录
type LinkClaims struct {
	jwtv5.RegisteredClaims
	Type     string `json:"typ"`
	SwitchID string `json:"sid"`
}

// LinkToken 签发结果
type LinkToken struct {
	ExpiresAt time.Time
	Token     string
	ID        string
}

// LinkSigner 签发和校验签到链接
type LinkSigner struct {
	now    func() time.Time
	secret []byte
	ttl    time.Duration
}

func NewLinkSigner(secret string, ttl time.Duration, now func() time.Time) *LinkSigner {
	if now == nil {
		now = time.Now
	}
	return &LinkSigner{secret: []byte(secret), ttl: ttl, now: now}
}

func (s *LinkSigner) Issue(switchID int64) (LinkToken, error) {
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.ttl)
	id := uuid.NewString()

	claims := LinkClaims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			ID:        id,
			IssuedAt:  jwtv5.NewNumericDate(issuedAt),
			ExpiresAt: jwtv5.NewNumericDate(expiresAt),
		},
		Type:     linkTokenType,
		SwitchID: strconv.FormatInt(switchID, 10),
	}

	signed, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return LinkToken{}, fmt.Errorf("sign check-in link: %w", err)
	}
	return LinkToken{Token: signed, ID: id, ExpiresAt: expiresAt}, nil
}

// Verify 返回 (switchID, jti)
func (s *LinkSigner) Verify(tokenString string) (int64, string, error) {
	claims := &LinkClaims{}
	_, err := jwtv5.ParseWithClaims(tokenString, claims, func(t *jwtv5.Token) (interface{}, error) {
		if t.Method != jwtv5.SigningMethodHS256 {
			return nil, fmt.Errorf("%w: %v, expected HS256", errors.ErrUnexpectedSigningMethod, t.Header["alg"])
		}
		return s.secret, nil
	}, jwtv5.WithTimeFunc(s.now), jwtv5.WithExpirationRequired())
	if err != nil {
		if stderrors.Is(err, jwtv5.ErrTokenExpired) {
			return 0, "", errors.LinkTokenExpired
		}
		return 0, "", fmt.Errorf("%w: %v", errors.LinkTokenInvalid, err)
	}

	if claims.Type != linkTokenType || claims.ID == "" {
		return 0, "", errors.LinkTokenInvalid
	}
	switchID, err := strconv.ParseInt(claims.SwitchID, 10, 64)
	if err != nil {
		return 0, "", errors.LinkTokenInvalid
	}
	return switchID, claims.ID, nil
}
