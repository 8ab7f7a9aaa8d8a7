package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/jabvlabs/roommate/internal/backend"
	"github.com/jabvlabs/roommate/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockAuthProvider mocks the AuthProvider interface
type MockAuthProvider struct {
	mock.Mock
}

func (m *MockAuthProvider) SignIn(ctx context.Context, email, password string) (*domain.User, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockAuthProvider) SignUp(ctx context.Context, email, password string) (*domain.User, bool, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.User), args.Bool(1), args.Error(2)
}

func (m *MockAuthProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockAuthProvider) CurrentUser(ctx context.Context) (*domain.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockAuthProvider) OnStateChange(fn func(backend.AuthEvent, *domain.User)) func() {
	args := m.Called(fn)
	return args.Get(0).(func())
}

// MockDirectory mocks the Directory interface
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) ApartmentByID(ctx context.Context, id uuid.UUID) (*domain.Apartment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Apartment), args.Error(1)
}

func (m *MockDirectory) ApartmentByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Apartment, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Apartment), args.Error(1)
}

func (m *MockDirectory) ApartmentsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Apartment, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Apartment), args.Error(1)
}

func (m *MockDirectory) ApartmentByCode(ctx context.Context, code string) (*domain.Apartment, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Apartment), args.Error(1)
}

func (m *MockDirectory) CreateApartment(ctx context.Context, apt *domain.Apartment) error {
	args := m.Called(ctx, apt)
	return args.Error(0)
}

func (m *MockDirectory) AddMember(ctx context.Context, member *domain.ApartmentMember) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *MockDirectory) RemoveMember(ctx context.Context, apartmentID, userID uuid.UUID) error {
	args := m.Called(ctx, apartmentID, userID)
	return args.Error(0)
}

func (m *MockDirectory) MembershipsByUser(ctx context.Context, userID uuid.UUID) ([]domain.ApartmentMember, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ApartmentMember), args.Error(1)
}

func (m *MockDirectory) MembersByApartment(ctx context.Context, apartmentID uuid.UUID) ([]domain.ApartmentMember, error) {
	args := m.Called(ctx, apartmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ApartmentMember), args.Error(1)
}
