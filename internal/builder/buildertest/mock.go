// Package buildertest provides a testify mock of builder.IBuilder.
package buildertest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dwarvesf/escrow-backend/internal/builder"
)

type MockBuilder struct {
	mock.Mock
}

var _ builder.IBuilder = (*MockBuilder)(nil)

func (m *MockBuilder) BuildLock(ctx context.Context, params builder.LockParams) (*builder.UnsignedTx, error) {
	args := m.Called(ctx, params)
	if tx, ok := args.Get(0).(*builder.UnsignedTx); ok {
		return tx, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBuilder) BuildUnlock(ctx context.Context, params builder.UnlockParams) (*builder.UnsignedTx, error) {
	args := m.Called(ctx, params)
	if tx, ok := args.Get(0).(*builder.UnsignedTx); ok {
		return tx, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBuilder) Submit(ctx context.Context, signed builder.SignedTx) (string, error) {
	args := m.Called(ctx, signed)
	return args.String(0), args.Error(1)
}

func (m *MockBuilder) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
