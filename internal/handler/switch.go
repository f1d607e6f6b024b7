package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"DeadManSwitch/internal/middleware"
	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/model/dto"
	"DeadManSwitch/internal/service"
	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/response"
)

// SwitchCommands 开关的用户侧操作
type SwitchCommands interface {
	Setup(ctx context.Context, userID int64, req dto.SetupSwitchRequest) (*model.Switch, error)
	Get(ctx context.Context, userID int64) (*model.Switch, error)
	Update(ctx context.Context, userID int64, req dto.UpdateSwitchRequest) (*model.Switch, error)
	CheckIn(ctx context.Context, userID int64, meta service.CheckInMeta) (*service.CheckInResult, error)
	CheckInByLink(ctx context.Context, linkToken string, meta service.CheckInMeta) (*service.CheckInResult, error)
	Cancel(ctx context.Context, userID int64) (bool, error)
	History(ctx context.Context, userID int64, limit int) (*service.SwitchHistory, error)
}

type SwitchHandler struct {
	switches SwitchCommands
}

func NewSwitchHandler(switches SwitchCommands) *SwitchHandler {
	return &SwitchHandler{switches: switches}
}

// SetupSwitch 创建开关
// POST /v1/switch
func (h *SwitchHandler) SetupSwitch(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return
	}

	var req dto.SetupSwitchRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	sw, err := h.switches.Setup(ctx, userID, req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Created(ctx, c, toSwitchResponse(sw))
}

// GetSwitch 查询当前用户的开关
// GET /v1/switch
func (h *SwitchHandler) GetSwitch(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return
	}

	sw, err := h.switches.Get(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, toSwitchResponse(sw))
}

// UpdateSwitch 部分更新
// PATCH /v1/switch
func (h *SwitchHandler) UpdateSwitch(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return
	}

	var req dto.UpdateSwitchRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	sw, err := h.switches.Update(ctx, userID, req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, toSwitchResponse(sw))
}

// CheckIn 手动签到
// POST /v1/switch/check-in
func (h *SwitchHandler) CheckIn(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return
	}

	var req dto.CheckInRequest
	if len(c.Request.Body()) > 0 {
		if err := c.BindJSON(&req); err != nil {
			response.BindError(ctx, c, err)
			return
		}
	}

	meta := checkInMeta(c, model.CheckInMethodManual)
	meta.Location = req.Location

	result, err := h.switches.CheckIn(ctx, userID, meta)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, toCheckInResponse(result))
}

// CheckInByLink 邮件中的一键签到，不需要登录
// GET /v1/switch/check-in/link?token=
func (h *SwitchHandler) CheckInByLink(ctx context.Context, c *app.RequestContext) {
	linkToken := c.Query("token")
	if linkToken == "" {
		response.Error(ctx, c, errors.LinkTokenInvalid)
		return
	}

	result, err := h.switches.CheckInByLink(ctx, linkToken, checkInMeta(c, model.CheckInMethodEmailLink))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, toCheckInResponse(result))
}

// CancelSwitch 停用开关，重复取消返回 cancelled=false
// POST /v1/switch/cancel
func (h *SwitchHandler) CancelSwitch(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return
	}

	cancelled, err := h.switches.Cancel(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, dto.CancelSwitchResponse{Cancelled: cancelled})
}

// GetHistory 最近的签到和通知
// GET /v1/switch/history?limit=
func (h *SwitchHandler) GetHistory(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return
	}

	var query dto.SwitchHistoryQuery
	if err := c.BindQuery(&query); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	history, err := h.switches.History(ctx, userID, query.Limit)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.SuccessWithMeta(ctx, c, toHistoryResponse(history), map[string]interface{}{
		"check_ins":     len(history.CheckIns),
		"notifications": len(history.Notifications),
	})
}

func checkInMeta(c *app.RequestContext, method model.CheckInMethod) service.CheckInMeta {
	return service.CheckInMeta{
		Method:    method,
		IPAddress: c.ClientIP(),
		UserAgent: string(c.UserAgent()),
	}
}
