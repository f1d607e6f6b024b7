// Package notify 通知渠道抽象，按渠道把消息路由到具体的发送实现
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/logger"
)

const (
	ChannelEmail     = "email"
	ChannelSMS       = "sms"
	ChannelPush      = "push"
	ChannelPhoneCall = "phone_call"
)

// Message 一条待发送的通知
type Message struct {
	Channel   string
	Recipient string
	Subject   string
	Body      string
	// Reference 业务侧的通知 id，发送方可用作幂等键
	Reference string
}

// Sender 发送成功返回渠道侧的投递 id
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// SenderFunc 适配普通函数
type SenderFunc func(ctx context.Context, msg Message) (string, error)

func (f SenderFunc) Send(ctx context.Context, msg Message) (string, error) {
	return f(ctx, msg)
}

// Mux 按渠道路由
type Mux struct {
	senders map[string]Sender
	mu      sync.RWMutex
}

func NewMux() *Mux {
	return &Mux{senders: make(map[string]Sender)}
}

// Handle 注册渠道，重复注册覆盖
func (m *Mux) Handle(channel string, s Sender) *Mux {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.senders[channel] = s
	return m
}

func (m *Mux) Send(ctx context.Context, msg Message) (string, error) {
	m.mu.RLock()
	s, ok := m.senders[msg.Channel]
	m.mu.RUnlock()
	if !ok {
		return "", errors.NewNonRetryableError(
			fmt.Errorf("%w: %s", errors.ChannelUnsupported, msg.Channel),
		)
	}
	if strings.TrimSpace(msg.Recipient) == "" {
		return "", errors.NewNonRetryableError(errors.RecipientMissing)
	}
	return s.Send(ctx, msg)
}

// LogSender 只写日志，用于还没有接入服务商的渠道（push、电话）
type LogSender struct {
	Channel string
}

func (s LogSender) Send(_ context.Context, msg Message) (string, error) {
	id := "log-" + uuid.NewString()
	logger.Logger.Info("Notification logged instead of delivered",
		zap.String("channel", s.Channel),
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
		zap.String("reference", msg.Reference),
		zap.String("delivery_id", id),
	)
	return id, nil
}
