package model

// NotificationMessage 通知投递消息，worker 根据 NotificationID 读取台账记录后发送
type NotificationMessage struct {
	MessageID        string `json:"message_id"` // 消息唯一ID，用于幂等性检查
	NotificationType string `json:"notification_type"`
	Channel          string `json:"channel"`
	NotificationID   int64  `json:"notification_id"`
	SwitchID         int64  `json:"switch_id"`
	UserID           int64  `json:"user_id"`
}

// EventMessage 事件消息（用于事件总线）
type EventMessage struct {
	Payload    map[string]interface{} `json:"payload"`
	MessageID  string                 `json:"message_id"`
	EventKey   string                 `json:"event_key"`
	EventType  string                 `json:"event_type"`
	OccurredAt string                 `json:"occurred_at"`
}

const (
	EventTypeSwitchTriggered = "switch.triggered"
)
