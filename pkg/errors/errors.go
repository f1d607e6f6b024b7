package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind 错误分类，调用方按 Kind 分支，而不是按具体错误码
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindAlreadyExists
	KindInvalidState
	KindInvalidArgument
	KindUnauthorized
	KindTransient // 存储抖动、版本冲突，可重试
	KindDelivery  // 单个收件人投递失败，不影响批次
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindInvalidState:
		return "InvalidState"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindUnauthorized:
		return "Unauthorized"
	case KindTransient:
		return "Transient"
	case KindDelivery:
		return "Delivery"
	case KindRateLimited:
		return "RateLimited"
	default:
		return "Internal"
	}
}

func (d Definition) Error() string {
	return d.Message
}

// Is 按错误码比较，WithMessage 派生出的错误仍然与原定义相等
func (d Definition) Is(target error) bool {
	t, ok := target.(Definition)
	return ok && t.Code == d.Code
}

// WithMessage 保留错误码和分类，替换提示信息
func (d Definition) WithMessage(format string, args ...interface{}) Definition {
	d.Message = fmt.Sprintf(format, args...)
	return d
}

// Definition 表示业务错误码及默认信息。
type Definition struct {
	Code    string
	Message string
	Kind    Kind
}

// 通用错误。
var (
	Internal         = Definition{Code: "INTERNAL_ERROR", Message: "Internal server error", Kind: KindInternal}
	Unauthorized     = Definition{Code: "UNAUTHORIZED", Message: "Unauthorized", Kind: KindUnauthorized}
	InvalidUserID    = Definition{Code: "INVALID_USER_ID", Message: "Invalid user ID format", Kind: KindInvalidArgument}
	InvalidRequest   = Definition{Code: "INVALID_REQUEST", Message: "Invalid request", Kind: KindInvalidArgument}
	StorageTransient = Definition{Code: "STORAGE_TRANSIENT", Message: "Storage temporarily unavailable", Kind: KindTransient}
	ErrUserNotFound  = Definition{Code: "USER_NOT_FOUND", Message: "User not found", Kind: KindNotFound}
	CircuitOpen      = Definition{Code: "CIRCUIT_OPEN", Message: "Dependency circuit breaker is open", Kind: KindTransient}
	RateLimited      = Definition{Code: "RATE_LIMITED", Message: "Too many requests", Kind: KindRateLimited}
)

// 开关模块错误。
var (
	SwitchNotFound        = Definition{Code: "SWITCH_NOT_FOUND", Message: "No dead man's switch configured for this user", Kind: KindNotFound}
	SwitchAlreadyExists   = Definition{Code: "SWITCH_ALREADY_EXISTS", Message: "Dead man's switch already configured for this user", Kind: KindAlreadyExists}
	SwitchInactive        = Definition{Code: "SWITCH_INACTIVE", Message: "switch inactive", Kind: KindInvalidState}
	SwitchTriggered       = Definition{Code: "SWITCH_TRIGGERED", Message: "switch triggered", Kind: KindInvalidState}
	SwitchVersionConflict = Definition{Code: "SWITCH_VERSION_CONFLICT", Message: "Switch was modified concurrently", Kind: KindTransient}
	SwitchConfigInvalid   = Definition{Code: "SWITCH_CONFIG_INVALID", Message: "Switch configuration invalid", Kind: KindInvalidArgument}
)

// 签到链接错误。
var (
	LinkTokenInvalid = Definition{Code: "LINK_TOKEN_INVALID", Message: "Check-in link invalid", Kind: KindInvalidArgument}
	LinkTokenExpired = Definition{Code: "LINK_TOKEN_EXPIRED", Message: "Check-in link expired", Kind: KindInvalidArgument}
)

// 通知投递错误。
var (
	NotificationNotFound = Definition{Code: "NOTIFICATION_NOT_FOUND", Message: "Notification not found", Kind: KindNotFound}
	DeliveryFailed       = Definition{Code: "DELIVERY_FAILED", Message: "Notification delivery failed", Kind: KindDelivery}
	RecipientMissing     = Definition{Code: "RECIPIENT_MISSING", Message: "Recipient has no address for channel", Kind: KindDelivery}
	ChannelUnsupported   = Definition{Code: "CHANNEL_UNSUPPORTED", Message: "Notification channel unsupported", Kind: KindDelivery}
)

// 短信 / token 相关错误。
var (
	ErrSignNameRequired             = Definition{Code: "SMS_SIGN_NAME_REQUIRED", Message: "SMS sign name is required"}
	ErrTemplateCodeRequired         = Definition{Code: "SMS_TEMPLATE_CODE_REQUIRED", Message: "SMS template code is required"}
	ErrTokenGeneratorNotInitialized = Definition{Code: "TOKEN_GENERATOR_NOT_INITIALIZED", Message: "Token generator not initialized"}
	ErrUnexpectedSigningMethod      = Definition{Code: "UNEXPECTED_SIGNING_METHOD", Message: "Unexpected signing method", Kind: KindInvalidArgument}
	ErrInvalidToken                 = Definition{Code: "INVALID_TOKEN", Message: "Invalid token", Kind: KindInvalidArgument}
	ErrInvalidTokenClaims           = Definition{Code: "INVALID_TOKEN_CLAIMS", Message: "Invalid token claims", Kind: KindInvalidArgument}
)

// Lookup 提供错误码查询能力。
var Lookup = map[string]Definition{
	Internal.Code:              Internal,
	Unauthorized.Code:          Unauthorized,
	InvalidUserID.Code:         InvalidUserID,
	InvalidRequest.Code:        InvalidRequest,
	StorageTransient.Code:      StorageTransient,
	ErrUserNotFound.Code:       ErrUserNotFound,
	CircuitOpen.Code:           CircuitOpen,
	RateLimited.Code:           RateLimited,
	SwitchNotFound.Code:        SwitchNotFound,
	SwitchAlreadyExists.Code:   SwitchAlreadyExists,
	SwitchInactive.Code:        SwitchInactive,
	SwitchTriggered.Code:       SwitchTriggered,
	SwitchVersionConflict.Code: SwitchVersionConflict,
	SwitchConfigInvalid.Code:   SwitchConfigInvalid,
	LinkTokenInvalid.Code:      LinkTokenInvalid,
	LinkTokenExpired.Code:      LinkTokenExpired,
	NotificationNotFound.Code:  NotificationNotFound,
	DeliveryFailed.Code:        DeliveryFailed,
	RecipientMissing.Code:      RecipientMissing,
	ChannelUnsupported.Code:    ChannelUnsupported,
}

// Get 根据错误码返回 Definition，若不存在则返回空 Definition。
func Get(code string) Definition {
	if def, ok := Lookup[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unexpected error"}
}

// As 沿错误链找到业务错误定义
func As(err error) (Definition, bool) {
	var def Definition
	if stderrors.As(err, &def) {
		return def, true
	}
	return Definition{}, false
}

// KindOf 返回错误链上第一个业务错误的分类，非业务错误视为 Internal
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	if def, ok := As(err); ok {
		return def.Kind
	}
	return KindInternal
}

// IsKind 判断错误是否属于某一分类
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// SkipMessageError 消费者遇到无法处理的消息时返回，ack 掉而不是重新入队
type SkipMessageError struct {
	Reason string
}

func (e *SkipMessageError) Error() string {
	return "skip message: " + e.Reason
}

func NewSkipMessageError(format string, args ...interface{}) error {
	return &SkipMessageError{Reason: fmt.Sprintf(format, args...)}
}

func IsSkipMessageError(err error) bool {
	var skip *SkipMessageError
	return stderrors.As(err, &skip)
}

// NonRetryableError 外部服务明确拒绝（参数错误、签名错误等），重试没有意义
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return "non-retryable: " + e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) error {
	return &NonRetryableError{Err: err}
}

func IsNonRetryable(err error) bool {
	var nr *NonRetryableError
	return stderrors.As(err, &nr)
}
