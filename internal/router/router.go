package router

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/route"

	"DeadManSwitch/internal/handler"
	"DeadManSwitch/internal/middleware"
)

// Limits 各组路由的限流器，为 nil 时不限流
type Limits struct {
	CheckIn     *middleware.RateLimiter
	LinkCheckIn *middleware.RateLimiter
	Settings    *middleware.RateLimiter
}

// Register 全局中间件由调用方在 Register 之前挂载
func Register(r route.IRouter, auth app.HandlerFunc, switches *handler.SwitchHandler, limits Limits) {
	v1 := r.Group("/v1")

	sw := v1.Group("/switch")

	// 邮件链接签到，靠签名 token 鉴权
	sw.GET("/check-in/link", chain(limits.LinkCheckIn, switches.CheckInByLink)...)

	authed := sw.Group("", auth)
	{
		authed.GET("", switches.GetSwitch)
		authed.GET("/history", switches.GetHistory)
		authed.POST("", chain(limits.Settings, switches.SetupSwitch)...)
		authed.PATCH("", chain(limits.Settings, switches.UpdateSwitch)...)
		authed.POST("/cancel", chain(limits.Settings, switches.CancelSwitch)...)
		authed.POST("/check-in", chain(limits.CheckIn, switches.CheckIn)...)
	}
}

func chain(limiter *middleware.RateLimiter, h app.HandlerFunc) []app.HandlerFunc {
	if limiter == nil {
		return []app.HandlerFunc{h}
	}
	return []app.HandlerFunc{limiter.Handler(), h}
}
