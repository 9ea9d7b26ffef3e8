package registry

import (
	"context"

	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockSignerRegistry mocks the interfaces.SignerRegistry interface
type MockSignerRegistry struct {
	mock.Mock
}

func (m *MockSignerRegistry) Init(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSignerRegistry) Update(ctx context.Context, id interfaces.Address32, pubKey interfaces.PubKey) error {
	args := m.Called(ctx, id, pubKey)
	return args.Error(0)
}

func (m *MockSignerRegistry) Remove(ctx context.Context, id interfaces.Address32) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSignerRegistry) ContainsKey(id interfaces.Address32) bool {
	args := m.Called(id)
	return args.Bool(0)
}

func (m *MockSignerRegistry) GetAll() []interfaces.SignerEntry {
	args := m.Called()
	return args.Get(0).([]interfaces.SignerEntry)
}

func (m *MockSignerRegistry) GetPubKey(id interfaces.Address32) (interfaces.PubKey, bool) {
	args := m.Called(id)
	return args.Get(0).(interfaces.PubKey), args.Bool(1)
}

// MockRelayerRegistry mocks the interfaces.RelayerRegistry interface
type MockRelayerRegistry struct {
	mock.Mock
}

func (m *MockRelayerRegistry) Init(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRelayerRegistry) Update(ctx context.Context, id interfaces.Address32) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRelayerRegistry) Remove(ctx context.Context, id interfaces.Address32) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRelayerRegistry) ContainsKey(id interfaces.Address32) bool {
	args := m.Called(id)
	return args.Bool(0)
}

func (m *MockRelayerRegistry) GetAll() []interfaces.Address32 {
	args := m.Called()
	return args.Get(0).([]interfaces.Address32)
}

// MockEnclaveRegistry mocks the interfaces.EnclaveRegistry interface
type MockEnclaveRegistry struct {
	mock.Mock
}

func (m *MockEnclaveRegistry) Init(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEnclaveRegistry) Update(ctx context.Context, id interfaces.Address32, workerType interfaces.WorkerType, url string) error {
	args := m.Called(ctx, id, workerType, url)
	return args.Error(0)
}

func (m *MockEnclaveRegistry) Remove(ctx context.Context, id interfaces.Address32, workerType interfaces.WorkerType) error {
	args := m.Called(ctx, id, workerType)
	return args.Error(0)
}

func (m *MockEnclaveRegistry) ContainsKey(id interfaces.Address32) bool {
	args := m.Called(id)
	return args.Bool(0)
}

func (m *MockEnclaveRegistry) GetAll() []interfaces.EnclaveEntry {
	args := m.Called()
	return args.Get(0).([]interfaces.EnclaveEntry)
}

func (m *MockEnclaveRegistry) GetWorkerURL(id interfaces.Address32) (string, bool) {
	args := m.Called(id)
	return args.String(0), args.Bool(1)
}

// MockScheduledEnclaveRegistry mocks the interfaces.ScheduledEnclaveRegistry interface
type MockScheduledEnclaveRegistry struct {
	mock.Mock
}

func (m *MockScheduledEnclaveRegistry) Init(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockScheduledEnclaveRegistry) Update(ctx context.Context, workerType interfaces.WorkerType, sbn uint64, mrenclave interfaces.MrEnclave) error {
	args := m.Called(ctx, workerType, sbn, mrenclave)
	return args.Error(0)
}

func (m *MockScheduledEnclaveRegistry) Remove(ctx context.Context, workerType interfaces.WorkerType, sbn uint64) error {
	args := m.Called(ctx, workerType, sbn)
	return args.Error(0)
}

func (m *MockScheduledEnclaveRegistry) ContainsKey(sbn uint64) bool {
	args := m.Called(sbn)
	return args.Bool(0)
}

func (m *MockScheduledEnclaveRegistry) GetAll() []interfaces.ScheduledEnclaveEntry {
	args := m.Called()
	return args.Get(0).([]interfaces.ScheduledEnclaveEntry)
}

func (m *MockScheduledEnclaveRegistry) GetMrEnclave(sbn uint64) (interfaces.MrEnclave, bool) {
	args := m.Called(sbn)
	return args.Get(0).(interfaces.MrEnclave), args.Bool(1)
}

func (m *MockScheduledEnclaveRegistry) ActiveAt(sbn uint64) (interfaces.MrEnclave, bool) {
	args := m.Called(sbn)
	return args.Get(0).(interfaces.MrEnclave), args.Bool(1)
}

// MockStorage mocks the Storage capability
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Load(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorage) Save(ctx context.Context, data []byte) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}
