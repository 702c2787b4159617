package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"inbox-service/internal/backend"
)

// BackendMock is a testify mock of the remote data backend. Query and
// Insert expectations populate dest through Run hooks.
type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) Query(ctx context.Context, dest any, table string, filter backend.Filter, order backend.Order, from, to int) error {
	args := m.Called(ctx, dest, table, filter, order, from, to)
	return args.Error(0)
}

func (m *BackendMock) Insert(ctx context.Context, dest any, table string, row map[string]any) error {
	args := m.Called(ctx, dest, table, row)
	return args.Error(0)
}

func (m *BackendMock) Update(ctx context.Context, table string, filter backend.Filter, patch map[string]any) error {
	args := m.Called(ctx, table, filter, patch)
	return args.Error(0)
}

func (m *BackendMock) Subscribe(ctx context.Context, table string, kind backend.EventKind, filter backend.Cond, fn backend.EventFunc) (backend.Subscription, error) {
	args := m.Called(ctx, table, kind, filter, fn)
	var sub backend.Subscription
	if val := args.Get(0); val != nil {
		sub = val.(backend.Subscription)
	}
	return sub, args.Error(1)
}

// SubscriptionMock is a closable no-op subscription.
type SubscriptionMock struct {
	mock.Mock
}

func (m *SubscriptionMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// ValidatorMock fakes the session token validator.
type ValidatorMock struct {
	mock.Mock
}

func (m *ValidatorMock) ValidateToken(token string) (int, error) {
	args := m.Called(token)
	return args.Int(0), args.Error(1)
}

var _ backend.Backend = (*BackendMock)(nil)
var _ backend.Subscription = (*SubscriptionMock)(nil)
