package peers

import (
	"context"
	"errors"
	"sync"

	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/ruteri/tee-signer-fabric/rpc"
	"github.com/stretchr/testify/mock"
)

// MockRPCClient mocks the interfaces.RPCClient interface
type MockRPCClient struct {
	mock.Mock
}

func (m *MockRPCClient) Send(req *rpc.Request) error {
	args := m.Called(req)
	return args.Error(0)
}

func (m *MockRPCClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockRPCClientFactory mocks the interfaces.RPCClientFactory interface
type MockRPCClientFactory struct {
	mock.Mock
}

func (m *MockRPCClientFactory) Create(ctx context.Context, url string, sink chan<- rpc.Response) (interfaces.RPCClient, error) {
	args := m.Called(ctx, url, sink)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(interfaces.RPCClient), args.Error(1)
}

// LoopbackFactory creates clients that answer every request locally with an Ok
// value echoing the request payload. It counts Create calls.
type LoopbackFactory struct {
	mu      sync.Mutex
	creates map[string]int
}

func NewLoopbackFactory() *LoopbackFactory {
	return &LoopbackFactory{creates: make(map[string]int)}
}

func (f *LoopbackFactory) Create(_ context.Context, url string, sink chan<- rpc.Response) (interfaces.RPCClient, error) {
	f.mu.Lock()
	f.creates[url]++
	f.mu.Unlock()
	return &loopbackClient{sink: sink}, nil
}

func (f *LoopbackFactory) Creates(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates[url]
}

var errLoopbackClosed = errors.New("loopback client closed")

type loopbackClient struct {
	mu     sync.Mutex
	sink   chan<- rpc.Response
	closed bool
}

func (c *loopbackClient) Send(req *rpc.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errLoopbackClosed
	}
	payload, err := req.PayloadParam()
	if err != nil {
		payload = nil
	}
	resp := rpc.Response{ID: req.ID, Value: rpc.OkValue(payload)}
	go func() { c.sink <- resp }()
	return nil
}

func (c *loopbackClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
