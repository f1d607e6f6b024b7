package handler

import (
	"strconv"

	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/model/dto"
	"DeadManSwitch/internal/service"
)

func toSwitchResponse(sw *model.Switch) dto.SwitchResponse {
	channels := sw.Channels()
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, string(ch))
	}

	resp := dto.SwitchResponse{
		ID:                   strconv.FormatInt(sw.ID, 10),
		Status:               string(sw.Status),
		IsActive:             sw.IsActive,
		CheckInIntervalDays:  sw.CheckInIntervalDays,
		GracePeriodDays:      sw.GracePeriodDays,
		LastCheckInAt:        sw.LastCheckInAt,
		NextCheckInDueDate:   sw.NextCheckInDueDate,
		GracePeriodStartedAt: sw.GracePeriodStartedAt,
		TriggeredAt:          sw.TriggeredAt,
		EmergencyEmail:       sw.EmergencyEmail,
		EmergencyPhone:       sw.EmergencyPhone,
		ReminderDays:         sw.ReminderOffsets(),
		NotificationChannels: names,
	}
	if end, ok := sw.GraceEndsAt(); ok {
		resp.GracePeriodEndsAt = &end
	}
	return resp
}

func toCheckInResponse(result *service.CheckInResult) dto.CheckInResponse {
	return dto.CheckInResponse{
		CheckInAt:          result.CheckInAt,
		NextCheckInDueDate: result.NextCheckInDueDate,
		DaysUntilNext:      result.DaysUntilNext,
	}
}

func toHistoryResponse(history *service.SwitchHistory) dto.SwitchHistoryResponse {
	resp := dto.SwitchHistoryResponse{
		CheckIns:      make([]dto.CheckInEventItem, 0, len(history.CheckIns)),
		Notifications: make([]dto.NotificationItem, 0, len(history.Notifications)),
	}
	for _, ev := range history.CheckIns {
		resp.CheckIns = append(resp.CheckIns, dto.CheckInEventItem{
			OccurredAt: ev.OccurredAt,
			Method:     string(ev.Method),
			IPAddress:  ev.IPAddress,
		})
	}
	for _, rec := range history.Notifications {
		resp.Notifications = append(resp.Notifications, dto.NotificationItem{
			SentAt:           rec.SentAt,
			DeliveredAt:      rec.DeliveredAt,
			NotificationType: string(rec.NotificationType),
			Channel:          string(rec.Channel),
			RecipientKind:    string(rec.RecipientKind),
			Status:           string(rec.Status),
			Subject:          rec.Subject,
		})
	}
	return resp
}
