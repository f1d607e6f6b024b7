package sms

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync"
)

type MockCall struct {
	Phone         string
	SignName      string
	TemplateCode  string
	TemplateParam string
}

// MockClient 记录调用的短信客户端，本地开发和测试用
type MockClient struct {
	Calls []MockCall
	mu    sync.Mutex

	// FailNext 置为 true 时，下一次调用返回错误并自动复位
	FailNext bool
}

func NewMockClient() *MockClient {
	return &MockClient{Calls: make([]MockCall, 0)}
}

func (m *MockClient) SendSingle(_ context.Context, phone, signName, templateCode, templateParam string) (*SendResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{
		Phone:         phone,
		SignName:      signName,
		TemplateCode:  templateCode,
		TemplateParam: templateParam,
	})

	if m.FailNext {
		m.FailNext = false
		return nil, stderrors.New("mock sms send failure")
	}

	return &SendResponse{
		MessageID: "mock-" + strconv.Itoa(len(m.Calls)),
		Code:      "OK",
		Provider:  "mock",
	}, nil
}

func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
