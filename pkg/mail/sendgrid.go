// Package mail 基于 SendGrid 的邮件发送
package mail

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/logger"
	"DeadManSwitch/pkg/notify"
)

type client interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

// Sender 实现 notify.Sender
type Sender struct {
	client    client
	fromName  string
	fromEmail string
}

var _ notify.Sender = (*Sender)(nil)

func NewSender(apiKey, fromName, fromEmail string) *Sender {
	return &Sender{
		client:    sendgrid.NewSendClient(apiKey),
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

func (s *Sender) Send(ctx context.Context, msg notify.Message) (string, error) {
	from := sgmail.NewEmail(s.fromName, s.fromEmail)
	to := sgmail.NewEmail("", msg.Recipient)
	message := sgmail.NewSingleEmail(from, msg.Subject, to, msg.Body, htmlBody(msg.Body))
	if msg.Reference != "" {
		message.SetHeader("X-Notification-Ref", msg.Reference)
	}

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		logger.Logger.Error("Failed to send email",
			zap.String("reference", msg.Reference),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %w", errors.DeliveryFailed, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("%w: sendgrid status %d", errors.DeliveryFailed, resp.StatusCode)
		logger.Logger.Error("SendGrid rejected email",
			zap.Int("status", resp.StatusCode),
			zap.String("reference", msg.Reference),
			zap.String("body", resp.Body),
		)
		// 4xx 是请求本身的问题，限流除外
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
			return "", errors.NewNonRetryableError(err)
		}
		return "", err
	}

	return messageID(resp), nil
}

func messageID(resp *rest.Response) string {
	for k, v := range resp.Headers {
		if strings.EqualFold(k, "X-Message-Id") && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func htmlBody(plain string) string {
	paragraphs := strings.Split(html.EscapeString(plain), "\n\n")
	var b strings.Builder
	for _, p := range paragraphs {
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(p, "\n", "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}
