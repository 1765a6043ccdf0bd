package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/0xdap/certsquat/pkg/interfaces"
	"github.com/0xdap/certsquat/pkg/notify"
)

// MockNotifier is a thread-safe mock implementation of notify.Notifier for testing
type MockNotifier struct {
	mu        sync.Mutex
	messages  []notify.Message
	attempts  []notify.Message // Track all send attempts
	sendErr   error
	sendDelay time.Duration
}

// NewMockNotifier creates a new mock notifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{
		messages: []notify.Message{},
		attempts: []notify.Message{},
	}
}

// Send implements the Notifier interface
func (m *MockNotifier) Send(msg notify.Message) error {
	if m.sendDelay > 0 {
		time.Sleep(m.sendDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Always track the attempt
	m.attempts = append(m.attempts, msg)

	if m.sendErr != nil {
		return m.sendErr
	}

	m.messages = append(m.messages, msg)
	return nil
}

// GetMessages returns a copy of successfully sent messages
func (m *MockNotifier) GetMessages() []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]notify.Message, len(m.messages))
	copy(result, m.messages)
	return result
}

// GetAttempts returns a copy of all attempted sends (including failures)
func (m *MockNotifier) GetAttempts() []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]notify.Message, len(m.attempts))
	copy(result, m.attempts)
	return result
}

// SetError sets the error to return on Send calls
func (m *MockNotifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetDelay sets a delay before each Send call
func (m *MockNotifier) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendDelay = delay
}

// Clear resets the mock state
func (m *MockNotifier) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = []notify.Message{}
	m.attempts = []notify.Message{}
	m.sendErr = nil
	m.sendDelay = 0
}

// ScriptedSource is a mock implementation of interfaces.Source that
// replays a fixed list of domain observations. Run closes the Domains
// channel immediately; buffered observations still drain to the reader.
type ScriptedSource struct {
	mu      sync.Mutex
	domains chan string
	runErr  error
	ran     bool
}

var _ interfaces.Source = (*ScriptedSource)(nil)

// NewScriptedSource creates a source that will deliver the given domains
func NewScriptedSource(domains ...string) *ScriptedSource {
	ch := make(chan string, len(domains)+1)
	for _, d := range domains {
		ch <- d
	}
	return &ScriptedSource{domains: ch}
}

// SetRunError sets the error Run returns after the domains drain
func (s *ScriptedSource) SetRunError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runErr = err
}

// Run implements the Source interface
func (s *ScriptedSource) Run(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ran {
		s.ran = true
		close(s.domains)
	}
	return s.runErr
}

// Domains implements the Source interface
func (s *ScriptedSource) Domains() <-chan string {
	return s.domains
}

// MockRateLimiter is a mock implementation of interfaces.RateLimiter for testing
type MockRateLimiter struct {
	mu          sync.Mutex
	allowResult bool
	allowCount  int
	resetCount  int
}

// NewMockRateLimiter creates a new mock rate limiter
func NewMockRateLimiter(allowResult bool) *MockRateLimiter {
	return &MockRateLimiter{
		allowResult: allowResult,
	}
}

// Allow implements the RateLimiter interface
func (m *MockRateLimiter) Allow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowCount++
	return m.allowResult
}

// Reset implements the RateLimiter interface
func (m *MockRateLimiter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetCount++
}

// SetAllowResult sets the result that Allow() will return
func (m *MockRateLimiter) SetAllowResult(allow bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowResult = allow
}

// GetAllowCount returns how many times Allow was called
func (m *MockRateLimiter) GetAllowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowCount
}

// GetResetCount returns how many times Reset was called
func (m *MockRateLimiter) GetResetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetCount
}

// CountingRateLimiter is a rate limiter that allows first N calls
type CountingRateLimiter struct {
	mu           sync.Mutex
	maxAllowed   int
	currentCount int
}

// NewCountingRateLimiter creates a new counting rate limiter
func NewCountingRateLimiter(maxAllowed int) *CountingRateLimiter {
	return &CountingRateLimiter{
		maxAllowed: maxAllowed,
	}
}

// Allow implements the RateLimiter interface
func (c *CountingRateLimiter) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentCount++
	return c.currentCount <= c.maxAllowed
}

// Reset implements the RateLimiter interface
func (c *CountingRateLimiter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentCount = 0
}
