package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/logger"
)

// State 熔断器状态
type State int

const (
	StateClosed   State = iota // 正常
	StateOpen                  // 熔断中，直接拒绝
	StateHalfOpen              // 放行少量探测请求
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

const defaultHalfOpenMaxCalls = 3

// CircuitBreaker 保护 Redis 调用，Redis 不可用时快速失败
type CircuitBreaker struct {
	clock            clockwork.Clock
	name             string
	maxFailures      int
	resetTimeout     time.Duration
	halfOpenMaxCalls int

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCalls int
}

func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration, clock clockwork.Clock) *CircuitBreaker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		clock:            clock,
		name:             name,
		maxFailures:      maxFailures,
		resetTimeout:     resetTimeout,
		halfOpenMaxCalls: defaultHalfOpenMaxCalls,
		state:            StateClosed,
	}
}

// Call 熔断时返回 errors.CircuitOpen，不执行 operation
func (cb *CircuitBreaker) Call(ctx context.Context, operation func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return fmt.Errorf("%w: %s", errors.CircuitOpen, cb.name)
	}

	err := operation(ctx)
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

// advance 到达 resetTimeout 后 open -> half_open，调用方持锁
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.clock.Since(cb.openedAt) >= cb.resetTimeout {
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
		logger.Logger.Info("Circuit breaker half-open", zap.String("name", cb.name))
	}
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance()
	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			return false
		}
		cb.halfOpenCalls++
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state != StateClosed {
			logger.Logger.Info("Circuit breaker closed", zap.String("name", cb.name))
		}
		cb.state = StateClosed
		cb.failures = 0
		cb.halfOpenCalls = 0
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		if cb.state != StateOpen {
			logger.Logger.Warn("Circuit breaker opened",
				zap.String("name", cb.name),
				zap.Int("failures", cb.failures),
				zap.Error(err),
			)
		}
		cb.state = StateOpen
		cb.openedAt = cb.clock.Now()
	}
}
