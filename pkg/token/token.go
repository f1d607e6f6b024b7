package token

import (
	"fmt"
	"strconv"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/hertz-contrib/jwt"

	"DeadManSwitch/config"
	"DeadManSwitch/pkg/errors"
)

const IdentityKey = "uid"

// sharedGenerator 由 middleware 读取，用同一套参数校验 access token
var sharedGenerator *jwt.HertzJWTMiddleware

// Settings access token 校验参数。token 由认证服务签发，两边共用密钥
type Settings struct {
	Secret     string
	Timeout    time.Duration
	MaxRefresh time.Duration
	Now        func() time.Time
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Secret:     cfg.JWTSecret,
		Timeout:    time.Duration(cfg.JWTExpireMinutes) * time.Minute,
		MaxRefresh: time.Duration(cfg.JWTRefreshDays) * 24 * time.Hour,
		Now:        time.Now,
	}
}

// NewGenerator 密钥为空时直接失败，避免接受任意签名
func NewGenerator(s Settings) (*jwt.HertzJWTMiddleware, error) {
	if s.Secret == "" {
		return nil, fmt.Errorf("jwt secret is empty")
	}
	if s.Now == nil {
		s.Now = time.Now
	}

	generator, err := jwt.New(&jwt.HertzJWTMiddleware{
		Key:         []byte(s.Secret),
		Timeout:     s.Timeout,
		MaxRefresh:  s.MaxRefresh,
		IdentityKey: IdentityKey,
		TimeFunc:    s.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token generator: %w", err)
	}
	return generator, nil
}

func Init() error {
	generator, err := NewGenerator(SettingsFromConfig(&config.Cfg))
	if err != nil {
		return err
	}
	sharedGenerator = generator
	return nil
}

func GetGenerator() *jwt.HertzJWTMiddleware {
	return sharedGenerator
}

// SignAccessToken 按认证服务的格式签发 token：uid 为十进制字符串
func SignAccessToken(generator *jwt.HertzJWTMiddleware, userID int64) (string, error) {
	if generator == nil {
		return "", errors.ErrTokenGeneratorNotInitialized
	}

	now := generator.TimeFunc()
	claims := jwtv5.MapClaims{
		IdentityKey: strconv.FormatInt(userID, 10),
		"orig_iat":  now.Unix(),
		"exp":       now.Add(generator.Timeout).Unix(),
	}

	signed, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(generator.Key)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// GenerateAccessToken 使用共享 generator 签发，供联调使用
func GenerateAccessToken(userID int64) (string, error) {
	return SignAccessToken(sharedGenerator, userID)
}
