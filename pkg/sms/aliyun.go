package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	openapiutil "github.com/alibabacloud-go/openapi-util/service"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	credential "github.com/aliyun/credentials-go/credentials"
	"go.uber.org/zap"

	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/logger"
)

// SendResponse 短信发送响应
type SendResponse struct {
	MessageID string // 阿里云返回的 BizId
	Code      string // "OK" 表示成功
	Message   string
	RequestID string
	Provider  string
}

type AliyunClient struct {
	client *openapi.Client
}

// NewAliyunClient 凭据从环境变量读取：
// ALIBABA_CLOUD_ACCESS_KEY_ID / ALIBABA_CLOUD_ACCESS_KEY_SECRET
func NewAliyunClient() (*AliyunClient, error) {
	cred, err := credential.NewCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun credential: %w", err)
	}

	client, err := openapi.NewClient(&openapi.Config{
		Credential: cred,
		Endpoint:   tea.String("dysmsapi.aliyuncs.com"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun client: %w", err)
	}

	return &AliyunClient{client: client}, nil
}

func (c *AliyunClient) createApiInfo(action string) *openapi.Params {
	return &openapi.Params{
		Action:      tea.String(action),
		Version:     tea.String("2017-05-25"),
		Protocol:    tea.String("HTTPS"),
		Method:      tea.String("POST"),
		AuthType:    tea.String("AK"),
		Style:       tea.String("RPC"),
		Pathname:    tea.String("/"),
		ReqBodyType: tea.String("json"),
		BodyType:    tea.String("json"),
	}
}

func (c *AliyunClient) SendSingle(_ context.Context, phone, signName, templateCode, templateParam string) (*SendResponse, error) {
	if signName == "" {
		return nil, errors.NewNonRetryableError(errors.ErrSignNameRequired)
	}
	if templateCode == "" {
		return nil, errors.NewNonRetryableError(errors.ErrTemplateCodeRequired)
	}

	queries := map[string]interface{}{
		"PhoneNumbers":  tea.String(phone),
		"SignName":      tea.String(signName),
		"TemplateCode":  tea.String(templateCode),
		"TemplateParam": tea.String(templateParam),
	}
	request := &openapi.OpenApiRequest{
		Query: openapiutil.Query(queries),
	}

	resp, err := c.client.CallApi(c.createApiInfo("SendSms"), request, &util.RuntimeOptions{})
	if err != nil {
		logger.Logger.Error("Failed to send SMS",
			zap.String("template", templateCode),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to send SMS: %w", err)
	}

	if raw, ok := resp["statusCode"]; ok && raw != nil {
		statusCode, err := parseStatusCode(raw)
		if err != nil {
			return nil, err
		}
		if statusCode != 200 {
			logger.Logger.Error("SMS API returned error",
				zap.Int("statusCode", statusCode),
				zap.Any("body", resp["body"]),
			)
			return nil, fmt.Errorf("SMS API error: statusCode=%d", statusCode)
		}
	}

	response, err := parseBody(resp["body"])
	if err != nil {
		return nil, err
	}
	if response.Code != "OK" {
		logger.Logger.Error("SMS send failed",
			zap.String("code", response.Code),
			zap.String("message", response.Message),
			zap.String("request_id", response.RequestID),
		)
		err := fmt.Errorf("SMS send failed: %s - %s", response.Code, response.Message)
		if isNonRetryableCode(response.Code) {
			return nil, errors.NewNonRetryableError(err)
		}
		return nil, err
	}

	logger.Logger.Debug("SMS sent successfully",
		zap.String("template", templateCode),
		zap.String("message_id", response.MessageID),
	)
	return response, nil
}

func parseBody(body interface{}) (*SendResponse, error) {
	response := &SendResponse{Provider: "aliyun"}
	if body == nil {
		return response, nil
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response body: %w", err)
	}
	var parsed struct {
		BizID     string `json:"BizId"`
		Code      string `json:"Code"`
		Message   string `json:"Message"`
		RequestID string `json:"RequestId"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response body: %w", err)
	}

	response.MessageID = parsed.BizID
	response.Code = parsed.Code
	response.Message = parsed.Message
	response.RequestID = parsed.RequestID
	return response, nil
}

// tea 返回的 statusCode 可能是 int、int32、int64 或字符串
func parseStatusCode(v interface{}) (int, error) {
	switch code := v.(type) {
	case int:
		return code, nil
	case int32:
		return int(code), nil
	case int64:
		return int(code), nil
	case *int:
		return tea.IntValue(code), nil
	case float64:
		return int(code), nil
	case string:
		n, err := strconv.Atoi(code)
		if err != nil {
			return 0, fmt.Errorf("invalid SMS status code %q: %w", code, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected SMS status code type %T", v)
	}
}

// 签名、模板、号码类错误重试也不会成功
func isNonRetryableCode(code string) bool {
	switch code {
	case "isv.SMS_SIGNATURE_ILLEGAL",
		"isv.SMS_SIGN_ILLEGAL",
		"isv.SMS_TEMPLATE_ILLEGAL",
		"isv.TEMPLATE_MISSING_PARAMETERS",
		"isv.TEMPLATE_PARAMS_ILLEGAL",
		"isv.MOBILE_NUMBER_ILLEGAL",
		"isv.MOBILE_COUNT_OVER_LIMIT",
		"isv.INVALID_PARAMETERS",
		"isv.PARAM_LENGTH_LIMIT",
		"isv.BLACK_KEY_CONTROL_LIMIT":
		return true
	}
	return false
}
