package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/jwt"

	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/response"
	"DeadManSwitch/pkg/token"
)

const (
	IdentityKey = token.IdentityKey
)

var (
	authMiddleware *jwt.HertzJWTMiddleware
)

// newAuthMiddleware access token 由认证服务签发，这里只做校验
func newAuthMiddleware(generator *jwt.HertzJWTMiddleware) (*jwt.HertzJWTMiddleware, error) {
	if generator == nil {
		return nil, fmt.Errorf("token generator not initialized, call token.Init() first")
	}

	return jwt.New(&jwt.HertzJWTMiddleware{
		Realm:       "DeadManSwitch API",
		Key:         generator.Key,
		Timeout:     generator.Timeout,
		MaxRefresh:  generator.MaxRefresh,
		IdentityKey: generator.IdentityKey,
		TimeFunc:    generator.TimeFunc,

		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(ctx, c)
			switch uid := claims[IdentityKey].(type) {
			case string:
				return uid
			case float64:
				return strconv.FormatInt(int64(uid), 10)
			default:
				return nil
			}
		},

		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			if code != http.StatusUnauthorized {
				code = http.StatusUnauthorized
			}
			c.JSON(code, response.ErrorResponse{
				Error: response.ErrorDetail{
					Code:    errors.Unauthorized.Code,
					Message: message,
				},
			})
		},

		TokenLookup:   "header: Authorization",
		TokenHeadName: "Bearer",
	})
}

func AuthMiddleware() app.HandlerFunc {
	if authMiddleware == nil {
		panic("AuthMiddleware not initialized, call Init() first")
	}
	return authMiddleware.MiddlewareFunc()
}

// GetUserID 从请求上下文中取出用户 ID
func GetUserID(ctx context.Context, c *app.RequestContext) (int64, bool) {
	value, exists := c.Get(IdentityKey)
	if !exists {
		return 0, false
	}

	raw, ok := value.(string)
	if !ok {
		return 0, false
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
