// Package testutil provides shared mocks for flow and server tests.
package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dgellow/linkd/internal/idp"
)

// MockProvider is a testify mock of idp.Provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) AuthURL(state string) string {
	args := m.Called(state)
	return args.String(0)
}

func (m *MockProvider) Exchange(ctx context.Context, code string) (*idp.Credential, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.Credential), args.Error(1)
}

func (m *MockProvider) Refresh(ctx context.Context, refreshToken string) (*idp.Credential, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.Credential), args.Error(1)
}

func (m *MockProvider) FetchProfile(ctx context.Context, accessToken string) (*idp.Profile, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.Profile), args.Error(1)
}

// MockMessenger is a testify mock of notify.Messenger.
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) SendAuthPrompt(ctx context.Context, userID, authURL string) (string, error) {
	args := m.Called(ctx, userID, authURL)
	return args.String(0), args.Error(1)
}

func (m *MockMessenger) DeleteMessage(ctx context.Context, userID, messageID string) error {
	args := m.Called(ctx, userID, messageID)
	return args.Error(0)
}
