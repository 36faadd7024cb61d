package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State 表示熔断器状态
type State int

const (
	StateClosed   State = iota // 关闭：正常状态，允许请求通过
	StateOpen                  // 打开：熔断状态，直接拒绝请求
	StateHalfOpen              // 半开：尝试恢复，允许少量请求通过
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// 连续失败多少次后打开熔断器
	FailureThreshold int `yaml:"failure_threshold"`
	// 半开状态下成功多少次后关闭熔断器
	SuccessThreshold int `yaml:"success_threshold"`
	// 打开状态持续多久后进入半开状态
	Timeout time.Duration `yaml:"timeout"`
	// 半开状态下的最大并发请求数
	HalfOpenMaxRequests int `yaml:"half_open_max_requests"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = d.HalfOpenMaxRequests
	}
	return c
}

// CircuitBreaker 熔断器
type CircuitBreaker struct {
	name   string
	config Config
	now    func() time.Time

	state         State
	failureCount  int
	successCount  int
	halfOpenCount int
	lastStateTime time.Time

	mu sync.Mutex
}

// NewCircuitBreaker 创建新的熔断器，零值字段使用默认配置
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	return newWithClock(name, config, time.Now)
}

func newWithClock(name string, config Config, now func() time.Time) *CircuitBreaker {
	return &CircuitBreaker{
		name:          name,
		config:        config.withDefaults(),
		now:           now,
		state:         StateClosed,
		lastStateTime: now(),
	}
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute 执行函数，带熔断保护，任何错误都计入失败
func (cb *CircuitBreaker) Execute(fn func() error) error {
	return cb.ExecuteCounting(fn, nil)
}

// ExecuteCounting 同 Execute，但只有 counts 返回 true 的错误计入失败；
// 其余错误按成功记账后原样返回。counts 为 nil 时所有错误都计入。
func (cb *CircuitBreaker) ExecuteCounting(fn func() error, counts func(error) bool) error {
	cb.mu.Lock()
	cb.checkStateTransition()

	switch cb.state {
	case StateOpen:
		cb.mu.Unlock()
		return ErrCircuitBreakerOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			cb.mu.Unlock()
			return ErrCircuitBreakerOpen
		}
		cb.halfOpenCount++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil && (counts == nil || counts(err)) {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
	return err
}

// checkStateTransition 检查并执行状态转换，调用方持有锁
func (cb *CircuitBreaker) checkStateTransition() {
	now := cb.now()

	switch cb.state {
	case StateOpen:
		if now.Sub(cb.lastStateTime) >= cb.config.Timeout {
			cb.setState(StateHalfOpen, now)
		}
	case StateHalfOpen:
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.setState(StateClosed, now)
		}
	}
}

func (cb *CircuitBreaker) setState(s State, now time.Time) {
	cb.state = s
	cb.lastStateTime = now
	cb.halfOpenCount = 0
	cb.successCount = 0
	if s == StateClosed {
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failureCount++
	now := cb.now()

	switch cb.state {
	case StateHalfOpen:
		// 半开状态下失败，立即打开
		cb.setState(StateOpen, now)
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.setState(StateOpen, now)
		}
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.failureCount = 0

	if cb.state == StateHalfOpen {
		cb.successCount++
		cb.halfOpenCount--
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.setState(StateClosed, cb.now())
		}
	}
}

// GetState 获取当前状态（线程安全）
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.checkStateTransition()
	return cb.state
}

// Reset 重置熔断器
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed, cb.now())
}

// Group 按 key 懒创建熔断器，同一 key 共享同一个实例
type Group struct {
	name     string
	config   Config
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func NewGroup(name string, config Config) *Group {
	return &Group{name: name, config: config, breakers: make(map[string]*CircuitBreaker)}
}

// Get 返回 key 对应的熔断器，不存在时创建
func (g *Group) Get(key string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(g.name+":"+key, g.config)
		g.breakers[key] = cb
	}
	return cb
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)
