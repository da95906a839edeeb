package speech

import (
	"context"
	"sync"
	"time"
)

// Mock implements Engine for testing.
// All methods can be customized via function fields.
type Mock struct {
	// SpeakFunc is called when Speak is invoked.
	// If nil, Speak returns nil immediately.
	SpeakFunc func(ctx context.Context, text string) error

	// HealthFunc is called when Health is invoked.
	// If nil, returns nil (healthy).
	HealthFunc func(ctx context.Context) error

	// Tracking
	mu        sync.Mutex
	calls     []MockCall
	cancelled int
	closed    bool
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	Time   time.Time
}

// NewMock creates a mock that speaks instantly.
func NewMock() *Mock {
	return &Mock{}
}

// Speak calls SpeakFunc and records the call. Cancellations are counted.
func (m *Mock) Speak(ctx context.Context, text string) error {
	m.recordCall("Speak", text)
	var err error
	if m.SpeakFunc != nil {
		err = m.SpeakFunc(ctx, text)
	}
	if err != nil && ctx.Err() != nil {
		m.mu.Lock()
		m.cancelled++
		m.mu.Unlock()
	}
	return err
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.recordCall("Health", "")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close records the call.
func (m *Mock) Close() error {
	m.recordCall("Close", "")
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Mock) recordCall(method, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Text:   text,
		Time:   time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// Spoken returns the text of every Speak call in order.
func (m *Mock) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		if c.Method == "Speak" {
			out = append(out, c.Text)
		}
	}
	return out
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Cancelled returns how many Speak calls ended by cancellation.
func (m *Mock) Cancelled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.cancelled = 0
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		SpeakFunc: func(ctx context.Context, text string) error {
			return err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// WithLatency makes every utterance take delay unless cancelled first.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	original := m.SpeakFunc
	m.SpeakFunc = func(ctx context.Context, text string) error {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if original != nil {
			return original(ctx, text)
		}
		return nil
	}
	return m
}

var _ Engine = (*Mock)(nil)
