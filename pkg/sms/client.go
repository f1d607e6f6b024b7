package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"DeadManSwitch/pkg/logger"
	"DeadManSwitch/pkg/notify"
)

// Client SMS 服务商客户端
type Client interface {
	// SendSingle templateParam 为 JSON 字符串
	SendSingle(ctx context.Context, phone, signName, templateCode, templateParam string) (*SendResponse, error)
}

// NewClient 按 provider 创建客户端：aliyun 或 mock
func NewClient(provider string) (Client, error) {
	switch provider {
	case "aliyun":
		return NewAliyunClient()
	case "mock", "":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported SMS provider: %s", provider)
	}
}

// 模板变量长度上限
const maxTemplateContent = 35

// Sender 把通知套进固定的短信模板，实现 notify.Sender。
// 模板变量：subject 为通知标题，content 为截断后的正文。
type Sender struct {
	client       Client
	signName     string
	templateCode string
}

var _ notify.Sender = (*Sender)(nil)

func NewSender(client Client, signName, templateCode string) *Sender {
	return &Sender{client: client, signName: signName, templateCode: templateCode}
}

func (s *Sender) Send(ctx context.Context, msg notify.Message) (string, error) {
	param, err := json.Marshal(map[string]string{
		"subject": truncateRunes(msg.Subject, maxTemplateContent),
		"content": truncateRunes(msg.Body, maxTemplateContent),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal template param: %w", err)
	}

	resp, err := s.client.SendSingle(ctx, msg.Recipient, s.signName, s.templateCode, string(param))
	if err != nil {
		return "", err
	}

	logger.Logger.Info("SMS notification sent",
		zap.String("reference", msg.Reference),
		zap.String("provider", resp.Provider),
		zap.String("message_id", resp.MessageID),
	)
	return resp.MessageID, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
