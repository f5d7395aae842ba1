// Package mock provides an in-memory mq client for tests.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/alertnav/pkg/mq"
)

// MockClient records pushes and hands out a caller-supplied delivery channel.
type MockClient struct {
	mu sync.Mutex

	// PushFunc overrides Push when set. Otherwise PushError is returned.
	PushFunc  func(ctx context.Context, data []byte) error
	PushError error
	pushed    [][]byte

	// ConsumeFunc overrides Consume when set.
	ConsumeFunc    func() (<-chan amqp.Delivery, error)
	ConsumeChannel <-chan amqp.Delivery
	ConsumeError   error
	ConsumeCalls   int

	CloseError error
	CloseCalls int

	// NotReady makes Ready report false.
	NotReady bool
}

// NewMockClient returns a client whose calls all succeed.
func NewMockClient() *MockClient {
	return &MockClient{ConsumeChannel: make(chan amqp.Delivery)}
}

// Push implements mq.Publisher. Only successful pushes are recorded.
func (m *MockClient) Push(ctx context.Context, data []byte) error {
	m.mu.Lock()
	fn, pushErr := m.PushFunc, m.PushError
	m.mu.Unlock()

	err := pushErr
	if fn != nil {
		err = fn(ctx, data)
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.pushed = append(m.pushed, append([]byte(nil), data...))
	m.mu.Unlock()
	return nil
}

// UnsafePush behaves like Push.
func (m *MockClient) UnsafePush(ctx context.Context, data []byte) error {
	return m.Push(ctx, data)
}

// Consume implements mq.Consumer.
func (m *MockClient) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ConsumeCalls++
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc()
	}
	return m.ConsumeChannel, m.ConsumeError
}

// Ready implements mq.ClientInterface.
func (m *MockClient) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.NotReady
}

// Close implements mq.Publisher and mq.Consumer.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	return m.CloseError
}

// Pushed returns a copy of every successfully pushed body, in order.
func (m *MockClient) Pushed() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.pushed...)
}

// SetPushError changes the error returned by subsequent pushes.
func (m *MockClient) SetPushError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PushError = err
}

var _ mq.ClientInterface = (*MockClient)(nil)
